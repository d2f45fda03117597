package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/me/slotq/internal/ledger"
	"github.com/me/slotq/internal/tracing"
	"github.com/me/slotq/pkg/model"
)

// ScheduleTask books a task against the owner's ledger balance: the
// quoted fee moves into engine escrow up front and is split at
// execution time.
func (e *Engine) ScheduleTask(ctx context.Context, owner model.Address, implementation string, gasLimit model.Gas, targetSlot model.Slot, maxFee model.Fee, payload []byte) (*model.ScheduleResult, error) {
	return e.schedule(ctx, owner, implementation, gasLimit, targetSlot, maxFee, payload, false)
}

// ScheduleWithBond books a task against a ledger hold instead of an
// up-front transfer. The hold is consumed when the task executes and
// released if it is cancelled first.
func (e *Engine) ScheduleWithBond(ctx context.Context, owner model.Address, implementation string, gasLimit model.Gas, targetSlot model.Slot, maxFee model.Fee, payload []byte) (*model.ScheduleResult, error) {
	return e.schedule(ctx, owner, implementation, gasLimit, targetSlot, maxFee, payload, true)
}

func (e *Engine) schedule(ctx context.Context, owner model.Address, implementation string, gasLimit model.Gas, targetSlot model.Slot, maxFee model.Fee, payload []byte, bonded bool) (res *model.ScheduleResult, err error) {
	if owner == model.ZeroAddress {
		return nil, model.NewValidationError("owner is required")
	}
	if err := e.lockIdle(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	ctx, span := tracing.Start(ctx, "engine.schedule")
	span.Annotate("owner", string(owner)).AnnotateInt("target_slot", int64(targetSlot))
	defer func() { span.End(err) }()

	now := e.clock.Now()
	if err := e.validateTarget(now, targetSlot); err != nil {
		return nil, err
	}
	tier, ok := model.TierForGas(gasLimit)
	if !ok {
		return nil, model.Errorf(model.ErrTaskGasTooLarge,
			"gas limit %d exceeds the largest tier ceiling %d", gasLimit, model.LargeGasCeiling)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ts := newTrackerSet(tx)
	bal, err := e.loadBalancerState(ts)
	if err != nil {
		return nil, err
	}
	q := &quoter{ts: ts, bal: bal}
	cost, err := q.quote(tier, targetSlot)
	if err != nil {
		return nil, err
	}
	if cost > maxFee {
		return nil, model.Errorf(model.ErrCostAboveMax, "quoted fee %d exceeds max fee %d", cost, maxFee)
	}

	nonce, err := tx.NextNonce(owner)
	if err != nil {
		return nil, fmt.Errorf("assign nonce: %w", err)
	}
	env, _, err := e.factory.GetOrCreate(tx, owner, nonce, implementation, payload)
	if err != nil {
		return nil, err
	}

	task := &model.Task{
		ID:            model.TaskID(owner, nonce),
		Owner:         owner,
		Nonce:         nonce,
		Tier:          tier,
		GasLimit:      gasLimit,
		EnvironmentID: env.ID,
		TargetSlot:    targetSlot,
		FeeCharged:    cost,
		Bonded:        bonded,
		CreatedAt:     time.Now().UTC(),
	}

	idx, err := ts.enqueue(tier, targetSlot)
	if err != nil {
		return nil, err
	}
	if err := tx.AppendQueueEntry(tier, targetSlot, idx, task.ID); err != nil {
		return nil, fmt.Errorf("append queue entry: %w", err)
	}

	// The ledger is touched only after every storage write has been
	// staged, so a validation failure above leaves no trace anywhere.
	if bonded {
		holdID, err := e.ledger.Hold(ctx, owner, cost)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, model.Errorf(model.ErrInsufficientBond, "%s cannot hold fee %d", owner, cost)
		}
		if err != nil {
			return nil, fmt.Errorf("place hold: %w", err)
		}
		task.HoldID = holdID
	} else {
		if err := e.fundDirect(ctx, owner, cost); err != nil {
			return nil, err
		}
	}

	if err := tx.CreateTask(task); err != nil {
		e.compensateFunding(ctx, task)
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := ts.flush(); err != nil {
		e.compensateFunding(ctx, task)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		e.compensateFunding(ctx, task)
		return nil, fmt.Errorf("commit schedule: %w", err)
	}

	e.logger.Info("task scheduled",
		"task_id", task.ID,
		"owner", owner,
		"tier", tier,
		"target_slot", uint64(targetSlot),
		"fee", uint64(cost),
		"bonded", bonded)

	return &model.ScheduleResult{
		TaskID:        task.ID,
		Nonce:         nonce,
		EnvironmentID: env.ID,
		Tier:          tier,
		TargetSlot:    targetSlot,
		Fee:           cost,
	}, nil
}

// Cancel flags a task so the iterator drains its queue entry without
// charging a fee, and returns the escrowed fee to the owner. Callers
// are the owner, an environment canceller or a task canceller.
func (e *Engine) Cancel(ctx context.Context, caller model.Address, taskID string) (err error) {
	if caller == model.ZeroAddress {
		return model.NewValidationError("caller is required")
	}
	if err := e.lockIdle(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	ctx, span := tracing.Start(ctx, "engine.cancel")
	span.Annotate("task_id", taskID)
	defer func() { span.End(err) }()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	task, err := tx.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return model.NewNotFoundError("task", taskID)
	}
	if !task.Active() {
		return model.Errorf(model.ErrTaskNotActive, "task %s is %s", taskID, task.Status())
	}

	authorized := caller == task.Owner
	if !authorized {
		if authorized, err = tx.IsEnvCanceller(task.EnvironmentID, caller); err != nil {
			return err
		}
	}
	if !authorized {
		if authorized, err = tx.IsTaskCanceller(taskID, caller); err != nil {
			return err
		}
	}
	if !authorized {
		return model.Errorf(model.ErrNotAuthorized, "%s may not cancel task %s", caller, taskID)
	}

	if err := tx.MarkCancelled(taskID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}

	// The flag is durable at this point; a refund failure leaves the
	// fee parked in escrow for reconciliation rather than undoing the
	// cancellation.
	if err := e.releaseFunding(ctx, task); err != nil {
		e.logger.Error("cancel refund failed", "task_id", taskID, "owner", task.Owner, "fee", uint64(task.FeeCharged), "error", err)
		return fmt.Errorf("task %s cancelled but refund failed: %w", taskID, err)
	}

	e.logger.Info("task cancelled", "task_id", taskID, "caller", caller, "refund", uint64(task.FeeCharged))
	return nil
}

// EstimateCost quotes a fee without scheduling anything. Immediately
// before an identical schedule call it returns the same fee that call
// will charge.
func (e *Engine) EstimateCost(ctx context.Context, gasLimit model.Gas, targetSlot model.Slot) (*model.EstimateResult, error) {
	now := e.clock.Now()
	if err := e.validateTarget(now, targetSlot); err != nil {
		return nil, err
	}
	tier, ok := model.TierForGas(gasLimit)
	if !ok {
		return nil, model.Errorf(model.ErrTaskGasTooLarge,
			"gas limit %d exceeds the largest tier ceiling %d", gasLimit, model.LargeGasCeiling)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ts := newTrackerSet(tx)
	bal, err := e.loadBalancerState(ts)
	if err != nil {
		return nil, err
	}
	q := &quoter{ts: ts, bal: bal}
	cost, err := q.quote(tier, targetSlot)
	if err != nil {
		return nil, err
	}
	return &model.EstimateResult{Tier: tier, TargetSlot: targetSlot, Fee: cost}, nil
}

// ScheduleInRange previews the queue: pending counts and current
// quotes per tier for each slot in (now, now+lookahead].
func (e *Engine) ScheduleInRange(ctx context.Context, lookahead uint64) ([]model.SlotSchedule, error) {
	if lookahead == 0 {
		return nil, model.NewValidationError("lookahead must be positive")
	}
	if lookahead > e.cfg.MaxLookahead {
		return nil, model.Errorf(model.ErrLookaheadTooFar, "lookahead %d exceeds maximum %d", lookahead, e.cfg.MaxLookahead)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ts := newTrackerSet(tx)
	bal, err := e.loadBalancerState(ts)
	if err != nil {
		return nil, err
	}
	q := &quoter{ts: ts, bal: bal}

	now := e.clock.Now()
	schedule := make([]model.SlotSchedule, 0, lookahead)
	for i := uint64(1); i <= lookahead; i++ {
		slot := now + model.Slot(i)
		row := model.SlotSchedule{Slot: slot}
		for _, tier := range model.Tiers() {
			pending, err := ts.pendingAt(tier, slot)
			if err != nil {
				return nil, err
			}
			fee, err := q.quote(tier, slot)
			if err != nil {
				return nil, err
			}
			row.Pending[tier] = pending
			row.Quotes[tier] = fee
		}
		schedule = append(schedule, row)
	}
	return schedule, nil
}

// validateTarget checks that a target slot is strictly in the future
// and within the schedule horizon.
func (e *Engine) validateTarget(now, target model.Slot) error {
	if target <= now {
		return model.Errorf(model.ErrTargetInPast, "target slot %d is not after current slot %d", target, now)
	}
	if uint64(target-now) > e.cfg.MaxScheduleDistance {
		return model.Errorf(model.ErrTargetTooFar,
			"target slot %d is %d slots out, limit is %d", target, uint64(target-now), e.cfg.MaxScheduleDistance)
	}
	return nil
}

func (e *Engine) escrow() model.Address {
	return model.Address(e.cfg.EscrowAccount)
}

// fundDirect moves a fee from the owner into engine escrow, restoring
// any partial withdrawal when the owner cannot cover it in full.
func (e *Engine) fundDirect(ctx context.Context, owner model.Address, amount model.Fee) error {
	deficit, err := e.ledger.Withdraw(ctx, owner, amount)
	if err != nil {
		return fmt.Errorf("withdraw fee from %s: %w", owner, err)
	}
	if deficit > 0 {
		if taken := amount - deficit; taken > 0 {
			if cerr := e.ledger.Credit(ctx, owner, taken); cerr != nil {
				e.logger.Error("restore of partial withdrawal failed", "owner", owner, "amount", uint64(taken), "error", cerr)
			}
		}
		return model.Errorf(model.ErrInsufficientBond, "%s is short %d of fee %d", owner, deficit, amount)
	}
	if err := e.ledger.Credit(ctx, e.escrow(), amount); err != nil {
		return fmt.Errorf("credit escrow: %w", err)
	}
	return nil
}

// refundDirect moves a fee from engine escrow back to the owner.
func (e *Engine) refundDirect(ctx context.Context, owner model.Address, amount model.Fee) error {
	deficit, err := e.ledger.Withdraw(ctx, e.escrow(), amount)
	if err != nil {
		return fmt.Errorf("withdraw escrow: %w", err)
	}
	if deficit > 0 {
		return fmt.Errorf("escrow is short %d of refund %d", deficit, amount)
	}
	if err := e.ledger.Credit(ctx, owner, amount); err != nil {
		return fmt.Errorf("credit %s: %w", owner, err)
	}
	return nil
}

// releaseFunding returns a task's locked fee to its owner: the hold is
// released for bonded tasks, the escrowed amount transferred back for
// direct ones.
func (e *Engine) releaseFunding(ctx context.Context, task *model.Task) error {
	if task.Bonded {
		return e.ledger.ReleaseHold(ctx, task.HoldID)
	}
	return e.refundDirect(ctx, task.Owner, task.FeeCharged)
}

// compensateFunding undoes schedule-time funding after a storage
// failure. Failures here only log: the transaction never committed,
// so the ledger is the only side holding state to unwind.
func (e *Engine) compensateFunding(ctx context.Context, task *model.Task) {
	if err := e.releaseFunding(ctx, task); err != nil {
		e.logger.Error("funding compensation failed",
			"task_id", task.ID,
			"owner", task.Owner,
			"fee", uint64(task.FeeCharged),
			"error", err)
	}
}
