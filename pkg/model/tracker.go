package model

import "math/bits"

// Depth is the level of a statistics tracker in the slot hierarchy.
// Slot trackers aggregate one slot, cohort trackers a contiguous run of
// TrackerFanout slots, division trackers a run of TrackerFanout cohorts.
type Depth uint8

const (
	DepthSlot Depth = iota
	DepthCohort
	DepthDivision
)

// TrackerFanout is the number of children per aggregate tracker.
const TrackerFanout = 128

// String returns the depth name.
func (d Depth) String() string {
	switch d {
	case DepthSlot:
		return "slot"
	case DepthCohort:
		return "cohort"
	case DepthDivision:
		return "division"
	}
	return "unknown"
}

// CohortOf returns the cohort coordinate covering a slot.
func CohortOf(s Slot) uint64 {
	return uint64(s) / TrackerFanout
}

// DivisionOf returns the division coordinate covering a slot.
func DivisionOf(s Slot) uint64 {
	return uint64(s) / (TrackerFanout * TrackerFanout)
}

// Bitmap128 is a fixed occupancy bitmap with one bit per tracker child.
type Bitmap128 struct {
	Lo uint64 `json:"lo"`
	Hi uint64 `json:"hi"`
}

// Set marks child i as occupied.
func (b *Bitmap128) Set(i int) {
	if i < 64 {
		b.Lo |= 1 << uint(i)
	} else {
		b.Hi |= 1 << uint(i-64)
	}
}

// Clear marks child i as empty.
func (b *Bitmap128) Clear(i int) {
	if i < 64 {
		b.Lo &^= 1 << uint(i)
	} else {
		b.Hi &^= 1 << uint(i-64)
	}
}

// Test reports whether child i is occupied.
func (b Bitmap128) Test(i int) bool {
	if i < 64 {
		return b.Lo&(1<<uint(i)) != 0
	}
	return b.Hi&(1<<uint(i-64)) != 0
}

// Empty reports whether no child is occupied.
func (b Bitmap128) Empty() bool {
	return b.Lo == 0 && b.Hi == 0
}

// NextSet returns the first occupied child at or after from. ok is
// false when no occupied child remains.
func (b Bitmap128) NextSet(from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	if from < 64 {
		if masked := b.Lo &^ (1<<uint(from) - 1); masked != 0 {
			return bits.TrailingZeros64(masked), true
		}
		if b.Hi != 0 {
			return 64 + bits.TrailingZeros64(b.Hi), true
		}
		return 0, false
	}
	if from < TrackerFanout {
		if masked := b.Hi &^ (1<<uint(from-64) - 1); masked != 0 {
			return 64 + bits.TrailingZeros64(masked), true
		}
	}
	return 0, false
}

// Count returns the number of occupied children.
func (b Bitmap128) Count() int {
	return bits.OnesCount64(b.Lo) + bits.OnesCount64(b.Hi)
}

// Tracker is one statistics node: per (tier, depth, coordinate) counts
// of scheduled and executed tasks, cumulative execution delay, the fees
// collected from executed tasks and the shares paid out to executors.
// Cohort and division trackers additionally carry an occupancy bitmap
// of children that still hold pending tasks.
type Tracker struct {
	Tier  Tier   `json:"tier"`
	Depth Depth  `json:"depth"`
	Coord uint64 `json:"coord"`

	TotalTasks    uint64 `json:"total_tasks"`
	ExecutedTasks uint64 `json:"executed_tasks"`

	// CumulativeDelay sums, in slots, how far past its target slot each
	// executed task ran.
	CumulativeDelay uint64 `json:"cumulative_delay"`

	FeesCollected Fee `json:"fees_collected"`
	FeesPaid      Fee `json:"fees_paid"`

	Children Bitmap128 `json:"children"`
}

// Pending returns the number of scheduled-but-unconsumed tasks.
func (n *Tracker) Pending() uint64 {
	return n.TotalTasks - n.ExecutedTasks
}

// Drained reports whether every scheduled task has been consumed.
func (n *Tracker) Drained() bool {
	return n.ExecutedTasks >= n.TotalTasks
}

// AverageFee returns the mean collected fee per executed task. ok is
// false when nothing has executed yet.
func (n *Tracker) AverageFee() (Fee, bool) {
	if n.ExecutedTasks == 0 {
		return 0, false
	}
	return n.FeesCollected / Fee(n.ExecutedTasks), true
}

// BalancerState is the persisted position of the execution iterator:
// one cursor per tier plus the congestion pricing parameters.
type BalancerState struct {
	Cursors [TierCount]Slot `json:"cursors"`

	// TargetDelay is the scheduling distance, in slots, at which quotes
	// carry no congestion adjustment.
	TargetDelay uint64 `json:"target_delay"`

	// GrowthRateBps is the per-slot congestion slope in basis points.
	GrowthRateBps uint64 `json:"growth_rate_bps"`
}
