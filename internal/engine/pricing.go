package engine

import "github.com/me/slotq/pkg/model"

// Congestion multiplier bounds, in basis points of the base rate. A
// quote right at the target delay carries the neutral 10_000.
const (
	congestionFloorBps = 2_500
	congestionCeilBps  = 40_000
)

// Per-depth weights and sample floors for the base rate. Slot-level
// averages dominate when a slot has real history; sparse depths defer
// to their coarser ancestors instead of overfitting a nearly empty
// node.
var depthWeights = [...]struct {
	depth  model.Depth
	weight uint64
	floor  uint64
}{
	{model.DepthSlot, 4, 4},
	{model.DepthCohort, 2, 16},
	{model.DepthDivision, 1, 64},
}

// quoter prices one scheduling call against the tracker statistics
// and the congestion position of the iterator cursors.
type quoter struct {
	ts  *trackerSet
	bal *model.BalancerState
}

// coordAt returns the tracker coordinate of a slot at a depth.
func coordAt(depth model.Depth, slot model.Slot) uint64 {
	switch depth {
	case model.DepthCohort:
		return model.CohortOf(slot)
	case model.DepthDivision:
		return model.DivisionOf(slot)
	default:
		return uint64(slot)
	}
}

// baseRate estimates what tasks around the slot have historically
// paid: a weighted average of per-depth mean collected fees, counting
// only depths with enough executed samples. With no qualifying depth
// the finest depth with any sample stands in; with no samples at all
// the tier floor does.
func (q *quoter) baseRate(tier model.Tier, slot model.Slot) (model.Fee, error) {
	var weighted, weights uint64
	var finest model.Fee
	var haveFinest bool

	for _, dw := range depthWeights {
		n, err := q.ts.node(tier, dw.depth, coordAt(dw.depth, slot))
		if err != nil {
			return 0, err
		}
		avg, ok := n.AverageFee()
		if !ok {
			continue
		}
		if !haveFinest {
			finest, haveFinest = avg, true
		}
		if n.ExecutedTasks >= dw.floor {
			weighted += dw.weight * uint64(avg)
			weights += dw.weight
		}
	}
	switch {
	case weights > 0:
		return model.Fee(weighted / weights), nil
	case haveFinest:
		return finest, nil
	default:
		return tier.FloorFee(), nil
	}
}

// rawQuote prices one tier at one slot: base rate scaled by the
// congestion multiplier, floored at the tier minimum. Slots nearer
// than the target delay cost more, slots further out cost less, with
// the growth rate as the per-slot slope.
func (q *quoter) rawQuote(tier model.Tier, slot model.Slot) (model.Fee, error) {
	base, err := q.baseRate(tier, slot)
	if err != nil {
		return 0, err
	}

	distance := int64(slot) - int64(q.bal.Cursors[tier])
	bps := int64(model.BpsDenominator) + int64(q.bal.GrowthRateBps)*(int64(q.bal.TargetDelay)-distance)
	if bps < congestionFloorBps {
		bps = congestionFloorBps
	}
	if bps > congestionCeilBps {
		bps = congestionCeilBps
	}

	cost := model.Fee(uint64(base) * uint64(bps) / model.BpsDenominator)
	if floor := tier.FloorFee(); cost < floor {
		cost = floor
	}
	return cost, nil
}

// quote prices a tier at a slot. Larger tiers never quote below
// smaller ones for the same slot: the result is the running maximum
// of the raw per-tier quotes from the smallest tier upward.
func (q *quoter) quote(tier model.Tier, slot model.Slot) (model.Fee, error) {
	var cost model.Fee
	for _, t := range model.Tiers() {
		raw, err := q.rawQuote(t, slot)
		if err != nil {
			return 0, err
		}
		if raw > cost {
			cost = raw
		}
		if t == tier {
			break
		}
	}
	return cost, nil
}
