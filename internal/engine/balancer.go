package engine

import (
	"fmt"

	"github.com/me/slotq/pkg/model"
)

// Gas overheads around a single execution. A tier is runnable only
// when the remaining budget covers allocation bookkeeping plus the
// tier ceiling plus settlement; the budget is debited at the ceiling
// plus settlement per consumed task, so callers never owe more than
// they offered.
const (
	allocOverheadGas model.Gas = 30_000
	execOverheadGas  model.Gas = 20_000
)

// tierNeed is the smallest budget under which a tier is runnable.
func tierNeed(tier model.Tier) model.Gas {
	return allocOverheadGas + tier.GasCeiling() + execOverheadGas
}

// tierDebit is the worst-case budget charge for one consumed task.
func tierDebit(tier model.Tier) model.Gas {
	return tier.GasCeiling() + execOverheadGas
}

// minTierNeed is the cheapest runnable tier's need; below it the
// execution loop stops.
func minTierNeed() model.Gas {
	return tierNeed(model.TierSmall)
}

// allocation is one due queue entry selected for execution.
type allocation struct {
	tier model.Tier
	slot model.Slot
	task *model.Task
}

// loadBalancerState reads the persisted iterator state, seeding the
// congestion parameters from configuration on first use.
func (e *Engine) loadBalancerState(ts *trackerSet) (*model.BalancerState, error) {
	bal, err := ts.tx.GetBalancerState()
	if err != nil {
		return nil, fmt.Errorf("load balancer state: %w", err)
	}
	if bal == nil {
		bal = &model.BalancerState{
			TargetDelay:   e.cfg.TargetDelay,
			GrowthRateBps: e.cfg.GrowthRateBps,
		}
	}
	return bal, nil
}

// allocate returns the next due queue entry affordable under the
// remaining budget, or ok=false when nothing due fits. Tiers are
// tried Large first: large tasks are the scarcest capacity and
// deferring them compounds fee pressure fastest. Within a tier the
// walk starts at the persisted cursor and visits slots in order, so
// a due task is never passed over in favor of a later one.
//
// Cancelled entries discovered during the walk are consumed in place
// with zero fees and skipped; that is the only tracker mutation a
// walk performs before it finds a runnable task.
func (e *Engine) allocate(ts *trackerSet, bal *model.BalancerState, now model.Slot, remaining, reserved model.Gas) (*allocation, bool, error) {
	tiers := model.Tiers()
	for i := len(tiers) - 1; i >= 0; i-- {
		tier := tiers[i]
		if remaining < reserved+tierNeed(tier) {
			continue
		}
		alloc, ok, err := e.walkTier(ts, bal, tier, now)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return alloc, true, nil
		}
	}
	return nil, false, nil
}

// walkTier advances one tier's cursor to its next runnable entry at
// or before now. Fully drained slots are skipped through the cohort
// and division bitmaps rather than slot by slot.
func (e *Engine) walkTier(ts *trackerSet, bal *model.BalancerState, tier model.Tier, now model.Slot) (*allocation, bool, error) {
	slot := bal.Cursors[tier]
	for slot <= now {
		b, err := ts.node(tier, model.DepthSlot, uint64(slot))
		if err != nil {
			return nil, false, err
		}
		if b.Drained() {
			next, ok, err := ts.nextPendingSlot(tier, slot+1, now)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				break
			}
			slot = next
			continue
		}

		if slot > bal.Cursors[tier] {
			bal.Cursors[tier] = slot
		}
		taskID, err := ts.tx.QueueEntryTask(tier, slot, b.ExecutedTasks)
		if err != nil {
			return nil, false, err
		}
		task, err := ts.tx.GetTask(taskID)
		if err != nil {
			return nil, false, err
		}
		if task == nil {
			return nil, false, fmt.Errorf("queue entry %s/%d/%d references missing task %s", tier, slot, b.ExecutedTasks, taskID)
		}

		if task.Cancelled {
			// Drain the entry without charging or collecting anything.
			if err := ts.recordOutcome(tier, slot, 0, 0, 0); err != nil {
				return nil, false, err
			}
			if err := ts.tx.MarkConsumed(task.ID); err != nil {
				return nil, false, err
			}
			e.logger.Debug("cancelled entry drained", "task_id", task.ID, "tier", tier, "slot", uint64(slot))
			continue
		}
		return &allocation{tier: tier, slot: slot, task: task}, true, nil
	}

	// Nothing pending at or before now: the cursor may catch up to the
	// present so congestion pricing measures distance from live time.
	if now > bal.Cursors[tier] {
		bal.Cursors[tier] = now
	}
	return nil, false, nil
}
