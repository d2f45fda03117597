package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/me/slotq/internal/ledger"
	"github.com/me/slotq/internal/store"
	"github.com/me/slotq/internal/tracing"
	"github.com/me/slotq/pkg/model"
)

// settlement is one consumed task's deferred fee movement: collect the
// fee by consuming its hold or draining escrow, then credit the
// protocol, validator and executor shares. Settlements apply after the
// pass commits, so an aborted pass owes the ledger nothing.
type settlement struct {
	taskID string
	bonded bool
	holdID string
	fee    model.Fee
	payout model.Address
}

// ExecuteTasks services due tasks until the budget above reserved no
// longer covers the cheapest tier, crediting the executor share of
// each collected fee toward payout. A failing task still consumes its
// entry and settles its fee; failure is recorded on the task, not
// returned.
func (e *Engine) ExecuteTasks(ctx context.Context, payout model.Address, budget, reserved model.Gas) (res *model.ExecuteResult, err error) {
	if payout == model.ZeroAddress {
		return nil, model.Errorf(model.ErrZeroPayoutTarget, "payout target is required")
	}
	if err := e.lockIdle(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	ctx, span := tracing.Start(ctx, "engine.execute")
	span.Annotate("payout", string(payout)).AnnotateInt("budget", int64(budget))
	defer func() { span.End(err) }()

	now := e.clock.Now()
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

	res = &model.ExecuteResult{CurrentSlot: now, Executed: []model.ExecutedTask{}}
	var plan []settlement
	var undo []func() error
	abort := func(err error) (*model.ExecuteResult, error) {
		e.runUndo(undo)
		return nil, err
	}

	remaining := budget
	for remaining >= reserved+minTierNeed() {
		alloc, ok, err := e.allocate(ts, bal, now, remaining, reserved)
		if err != nil {
			return abort(err)
		}
		if !ok {
			break
		}
		executed, stl, err := e.runAllocated(ctx, tx, ts, bal, now, alloc, payout, &undo)
		if err != nil {
			return abort(err)
		}
		plan = append(plan, stl)
		res.Executed = append(res.Executed, executed)
		res.FeesEarned += executed.ExecutorShare
		remaining -= tierDebit(alloc.tier)
	}
	res.BudgetSpent = budget - remaining

	if err := ts.flush(); err != nil {
		return abort(err)
	}
	if err := tx.PutBalancerState(bal); err != nil {
		return abort(fmt.Errorf("save balancer state: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return abort(fmt.Errorf("commit execution pass: %w", err))
	}

	// The consumed entries are durable now. A settlement failure is
	// logged for reconciliation; it does not undo the pass.
	for _, s := range plan {
		if err := e.settle(ctx, s); err != nil {
			e.logger.Error("fee settlement failed", "task_id", s.taskID, "fee", uint64(s.fee), "error", err)
		}
	}

	e.logger.Info("execution pass",
		"current_slot", uint64(now),
		"executed", len(res.Executed),
		"fees_earned", uint64(res.FeesEarned),
		"budget_spent", uint64(res.BudgetSpent))
	return res, nil
}

// runAllocated executes one allocated task and stages its bookkeeping:
// outcome statistics at the entry's slot, the task row update and the
// settlement of the fee captured before the run. A reschedule inside
// the run rebinds the task to new funding; the captured fee still
// settles for the finished attempt.
func (e *Engine) runAllocated(ctx context.Context, tx store.Tx, ts *trackerSet, bal *model.BalancerState, now model.Slot, alloc *allocation, payout model.Address, undo *[]func() error) (model.ExecutedTask, settlement, error) {
	task := alloc.task
	env, err := tx.GetEnvironment(task.EnvironmentID)
	if err != nil {
		return model.ExecutedTask{}, settlement{}, err
	}
	if env == nil {
		return model.ExecutedTask{}, settlement{}, fmt.Errorf("task %s references missing environment %s", task.ID, task.EnvironmentID)
	}

	stl := settlement{
		taskID: task.ID,
		bonded: task.Bonded,
		holdID: task.HoldID,
		fee:    task.FeeCharged,
		payout: payout,
	}

	ec := &execContext{taskID: task.ID, envID: env.ID}
	ec.reschedule = e.rescheduleFunc(ctx, tx, ts, bal, task, now, ec, undo)
	e.exec = ec
	defer func() { e.exec = nil }()

	outcome := e.runtime.Invoke(env, task, ec)
	if ec.fatal != nil {
		return model.ExecutedTask{}, settlement{}, ec.fatal
	}

	_, _, executorShare := model.SplitFee(stl.fee)
	delay := uint64(now - alloc.slot)
	if err := ts.recordOutcome(alloc.tier, alloc.slot, delay, stl.fee, executorShare); err != nil {
		return model.ExecutedTask{}, settlement{}, err
	}

	if ec.rescheduled {
		if err := tx.RecordAttempt(task.ID, executorShare, outcome.Err); err != nil {
			return model.ExecutedTask{}, settlement{}, err
		}
	} else {
		if err := tx.MarkExecuted(task.ID, time.Now().UTC(), executorShare, outcome.Err); err != nil {
			return model.ExecutedTask{}, settlement{}, err
		}
	}

	e.logger.Info("task executed",
		"task_id", task.ID,
		"tier", alloc.tier,
		"slot", uint64(alloc.slot),
		"ok", outcome.OK,
		"rescheduled", ec.rescheduled,
		"fee", uint64(stl.fee),
		"elapsed", outcome.Elapsed)

	return model.ExecutedTask{
		TaskID:        task.ID,
		Tier:          alloc.tier,
		Slot:          alloc.slot,
		OK:            outcome.OK,
		Rescheduled:   ec.rescheduled,
		Error:         outcome.Err,
		FeeCollected:  stl.fee,
		ExecutorShare: executorShare,
		Elapsed:       outcome.Elapsed,
	}, stl, nil
}

// rescheduleFunc builds the one host callback a running task may use
// to retarget itself. It shares the pass's transaction and working
// set, so the new queue entry and statistics land atomically with the
// pass. Funding for the new attempt moves immediately, because the
// program observes whether its reschedule succeeded; the matching
// release joins the undo list in case the pass later fails to commit.
func (e *Engine) rescheduleFunc(ctx context.Context, tx store.Tx, ts *trackerSet, bal *model.BalancerState, task *model.Task, now model.Slot, ec *execContext, undo *[]func() error) func(model.Slot, model.Fee) error {
	return func(newSlot model.Slot, newMaxFee model.Fee) error {
		if ec.rescheduled {
			return model.Errorf(model.ErrAlreadyRescheduled, "task %s has already rescheduled in this execution", task.ID)
		}
		if err := e.validateTarget(now, newSlot); err != nil {
			return err
		}
		q := &quoter{ts: ts, bal: bal}
		cost, err := q.quote(task.Tier, newSlot)
		if err != nil {
			ec.fatal = err
			return err
		}
		if cost > newMaxFee {
			return model.Errorf(model.ErrCostAboveMax, "quoted fee %d exceeds max fee %d", cost, newMaxFee)
		}

		holdID := ""
		if task.Bonded {
			holdID, err = e.ledger.Hold(ctx, task.Owner, cost)
			if errors.Is(err, ledger.ErrInsufficientFunds) {
				return model.Errorf(model.ErrInsufficientBond, "%s cannot hold fee %d", task.Owner, cost)
			}
			if err != nil {
				return fmt.Errorf("place hold: %w", err)
			}
			id := holdID
			*undo = append(*undo, func() error { return e.ledger.ReleaseHold(ctx, id) })
		} else {
			if err := e.fundDirect(ctx, task.Owner, cost); err != nil {
				return err
			}
			owner, amount := task.Owner, cost
			*undo = append(*undo, func() error { return e.refundDirect(ctx, owner, amount) })
		}

		// Storage failures past this point poison the whole pass: the
		// program may catch the thrown error, but a half-applied
		// reschedule must never commit.
		idx, err := ts.enqueue(task.Tier, newSlot)
		if err != nil {
			ec.fatal = err
			return err
		}
		if err := tx.AppendQueueEntry(task.Tier, newSlot, idx, task.ID); err != nil {
			ec.fatal = fmt.Errorf("append queue entry: %w", err)
			return ec.fatal
		}
		if err := tx.RetargetTask(task.ID, newSlot, cost, holdID); err != nil {
			ec.fatal = err
			return err
		}
		task.TargetSlot = newSlot
		task.FeeCharged = cost
		task.HoldID = holdID
		task.Reschedules++
		ec.rescheduled = true

		e.logger.Info("task rescheduled", "task_id", task.ID, "target_slot", uint64(newSlot), "fee", uint64(cost))
		return nil
	}
}

// settle collects one task's fee and distributes the shares.
func (e *Engine) settle(ctx context.Context, s settlement) error {
	if s.bonded {
		if _, err := e.ledger.ConsumeHold(ctx, s.holdID); err != nil {
			return fmt.Errorf("consume hold %s: %w", s.holdID, err)
		}
	} else {
		deficit, err := e.ledger.Withdraw(ctx, e.escrow(), s.fee)
		if err != nil {
			return fmt.Errorf("withdraw escrow: %w", err)
		}
		if deficit > 0 {
			return fmt.Errorf("escrow is short %d of fee %d", deficit, s.fee)
		}
	}

	protocolShare, validatorShare, executorShare := model.SplitFee(s.fee)
	if err := e.ledger.Credit(ctx, model.Address(e.cfg.ProtocolPool), protocolShare); err != nil {
		return fmt.Errorf("credit protocol pool: %w", err)
	}
	if err := e.ledger.Credit(ctx, model.Address(e.cfg.ValidatorPool), validatorShare); err != nil {
		return fmt.Errorf("credit validator pool: %w", err)
	}
	if err := e.ledger.Credit(ctx, s.payout, executorShare); err != nil {
		return fmt.Errorf("credit executor: %w", err)
	}
	return nil
}

// runUndo unwinds reschedule funding after a pass that did not commit.
func (e *Engine) runUndo(undo []func() error) {
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](); err != nil {
			e.logger.Error("funding unwind failed", "error", err)
		}
	}
}
