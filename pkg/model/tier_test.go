package model

import "testing"

func TestTierForGas(t *testing.T) {
	tests := []struct {
		limit Gas
		tier  Tier
		ok    bool
	}{
		{1, TierSmall, true},
		{99_999, TierSmall, true},
		{100_000, TierSmall, true},
		{100_001, TierMedium, true},
		{300_000, TierMedium, true},
		{300_001, TierLarge, true},
		{750_000, TierLarge, true},
		{750_001, 0, false},
		{2_000_000, 0, false},
	}
	for _, tt := range tests {
		tier, ok := TierForGas(tt.limit)
		if ok != tt.ok {
			t.Errorf("TierForGas(%d) ok = %v, want %v", tt.limit, ok, tt.ok)
			continue
		}
		if ok && tier != tt.tier {
			t.Errorf("TierForGas(%d) = %v, want %v", tt.limit, tier, tt.tier)
		}
	}
}

func TestTier_GasCeiling(t *testing.T) {
	tests := []struct {
		tier    Tier
		ceiling Gas
	}{
		{TierSmall, 100_000},
		{TierMedium, 300_000},
		{TierLarge, 750_000},
	}
	for _, tt := range tests {
		if got := tt.tier.GasCeiling(); got != tt.ceiling {
			t.Errorf("%v.GasCeiling() = %d, want %d", tt.tier, got, tt.ceiling)
		}
	}
}

func TestTier_FloorFee(t *testing.T) {
	tests := []struct {
		tier  Tier
		floor Fee
	}{
		{TierSmall, 10_000},
		{TierMedium, 30_000},
		{TierLarge, 75_000},
	}
	for _, tt := range tests {
		if got := tt.tier.FloorFee(); got != tt.floor {
			t.Errorf("%v.FloorFee() = %d, want %d", tt.tier, got, tt.floor)
		}
	}
}

func TestParseTier(t *testing.T) {
	for _, tier := range Tiers() {
		parsed, err := ParseTier(tier.String())
		if err != nil {
			t.Fatalf("ParseTier(%q): %v", tier.String(), err)
		}
		if parsed != tier {
			t.Errorf("ParseTier(%q) = %v, want %v", tier.String(), parsed, tier)
		}
	}
	if _, err := ParseTier("huge"); err == nil {
		t.Error("ParseTier(\"huge\") expected error, got nil")
	}
}

func TestSplitFee(t *testing.T) {
	tests := []struct {
		fee       Fee
		protocol  Fee
		validator Fee
		executor  Fee
	}{
		{10_000, 2_500, 2_600, 4_900},
		{100_000, 25_000, 26_000, 49_000},
		// Rounding dust goes to the protocol share.
		{10_001, 2_501, 2_600, 4_900},
		{3, 2, 0, 1},
		{0, 0, 0, 0},
	}
	for _, tt := range tests {
		p, v, e := SplitFee(tt.fee)
		if p != tt.protocol || v != tt.validator || e != tt.executor {
			t.Errorf("SplitFee(%d) = (%d, %d, %d), want (%d, %d, %d)",
				tt.fee, p, v, e, tt.protocol, tt.validator, tt.executor)
		}
		if p+v+e != tt.fee {
			t.Errorf("SplitFee(%d) shares sum to %d", tt.fee, p+v+e)
		}
	}
}
