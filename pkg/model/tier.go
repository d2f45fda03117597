package model

import "fmt"

// Address identifies an account: task owners, executors, payout targets
// and the engine's internal pool accounts.
type Address string

// ZeroAddress is the empty address. It is never a valid payout target.
const ZeroAddress Address = ""

// Slot is a discrete scheduling interval. Slots increase monotonically
// with time; the clock maps wall time onto slots.
type Slot uint64

// Gas measures execution work. Nonce orders a single owner's tasks.
type (
	Gas   uint64
	Fee   uint64
	Nonce uint64
)

// Tier buckets tasks by gas ceiling so queue entries of one tier are
// interchangeable for budgeting purposes.
type Tier uint8

const (
	TierSmall Tier = iota
	TierMedium
	TierLarge
)

// TierCount is the number of size tiers.
const TierCount = 3

// Gas ceilings per tier. A task's gas limit selects the smallest tier
// whose ceiling covers it; execution budgets are debited at the ceiling.
const (
	SmallGasCeiling  Gas = 100_000
	MediumGasCeiling Gas = 300_000
	LargeGasCeiling  Gas = 750_000
)

// Floor fees per tier. Quotes never drop below these.
const (
	SmallFloorFee  Fee = 10_000
	MediumFloorFee Fee = 30_000
	LargeFloorFee  Fee = 75_000
)

// Fee split in basis points: protocol / validator / executor.
// The executor and validator shares round down; the protocol share
// absorbs the remainder so the three always sum to the fee.
const (
	ProtocolShareBps  = 2500
	ValidatorShareBps = 2600
	ExecutorShareBps  = 4900
	BpsDenominator    = 10_000
)

// Tiers lists all tiers in ascending ceiling order.
func Tiers() [TierCount]Tier {
	return [TierCount]Tier{TierSmall, TierMedium, TierLarge}
}

// GasCeiling returns the tier's gas ceiling.
func (t Tier) GasCeiling() Gas {
	switch t {
	case TierSmall:
		return SmallGasCeiling
	case TierMedium:
		return MediumGasCeiling
	case TierLarge:
		return LargeGasCeiling
	}
	return 0
}

// FloorFee returns the tier's minimum quote.
func (t Tier) FloorFee() Fee {
	switch t {
	case TierSmall:
		return SmallFloorFee
	case TierMedium:
		return MediumFloorFee
	case TierLarge:
		return LargeFloorFee
	}
	return 0
}

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierSmall:
		return "small"
	case TierMedium:
		return "medium"
	case TierLarge:
		return "large"
	}
	return fmt.Sprintf("tier(%d)", uint8(t))
}

// MarshalText renders the tier as its name for JSON and YAML.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier converts a tier name to a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "small":
		return TierSmall, nil
	case "medium":
		return TierMedium, nil
	case "large":
		return TierLarge, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// TierForGas selects the smallest tier whose ceiling covers the given
// gas limit. ok is false when the limit exceeds the largest ceiling.
func TierForGas(limit Gas) (Tier, bool) {
	switch {
	case limit <= SmallGasCeiling:
		return TierSmall, true
	case limit <= MediumGasCeiling:
		return TierMedium, true
	case limit <= LargeGasCeiling:
		return TierLarge, true
	}
	return 0, false
}

// SplitFee divides a collected fee into protocol, validator and executor
// shares. Rounding dust stays with the protocol share.
func SplitFee(f Fee) (protocol, validator, executor Fee) {
	executor = f * ExecutorShareBps / BpsDenominator
	validator = f * ValidatorShareBps / BpsDenominator
	protocol = f - validator - executor
	return protocol, validator, executor
}
