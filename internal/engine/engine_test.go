package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/me/slotq/internal/config"
	"github.com/me/slotq/internal/ledger"
	"github.com/me/slotq/internal/store"
	"github.com/me/slotq/pkg/model"
)

const okProgram = `function main(payload) { return true; }`

func testEngine(t *testing.T) (*Engine, *ManualClock) {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate store: %v", err)
	}

	led, err := ledger.NewSQLiteLedger(":memory:", logger)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })
	if err := led.Migrate(ctx); err != nil {
		t.Fatalf("migrate ledger: %v", err)
	}

	clock := NewManualClock(0)
	return NewEngine(config.Default().Engine, st, led, clock, logger), clock
}

func fund(t *testing.T, e *Engine, owner model.Address, amount model.Fee) {
	t.Helper()
	if err := e.Deposit(context.Background(), owner, amount); err != nil {
		t.Fatalf("deposit %d to %s: %v", amount, owner, err)
	}
}

func mustSchedule(t *testing.T, e *Engine, owner model.Address, program string, gas model.Gas, slot model.Slot) *model.ScheduleResult {
	t.Helper()
	res, err := e.ScheduleTask(context.Background(), owner, program, gas, slot, 1_000_000, []byte(`{}`))
	if err != nil {
		t.Fatalf("schedule %s gas=%d slot=%d: %v", owner, gas, slot, err)
	}
	return res
}

func available(t *testing.T, e *Engine, owner model.Address) model.Fee {
	t.Helper()
	bal, err := e.Balance(context.Background(), owner)
	if err != nil {
		t.Fatalf("balance %s: %v", owner, err)
	}
	return bal.Available
}

func TestScheduleTask(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	res, err := e.ScheduleTask(ctx, "acct:alice", okProgram, 80_000, 10, 50_000, []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}
	if res.TaskID != model.TaskID("acct:alice", 0) {
		t.Errorf("TaskID = %s, want derived from (owner, nonce 0)", res.TaskID)
	}
	if res.Nonce != 0 {
		t.Errorf("Nonce = %d, want 0", res.Nonce)
	}
	if res.Tier != model.TierSmall {
		t.Errorf("Tier = %v, want small", res.Tier)
	}
	// Ten slots out with a sixty slot target delay: +12.5% on the floor.
	if res.Fee != 11_250 {
		t.Errorf("Fee = %d, want 11_250", res.Fee)
	}

	task, err := e.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Owner != "acct:alice" || task.TargetSlot != 10 || task.FeeCharged != res.Fee {
		t.Errorf("task = %+v, want owner/slot/fee from schedule", task)
	}
	if !task.Active() || task.Bonded {
		t.Errorf("task active=%v bonded=%v, want active unbonded", task.Active(), task.Bonded)
	}

	if got := available(t, e, "acct:alice"); got != 1_000_000-11_250 {
		t.Errorf("owner available = %d, want %d", got, 1_000_000-11_250)
	}
	if got := available(t, e, "sys:escrow"); got != 11_250 {
		t.Errorf("escrow = %d, want fee parked until execution", got)
	}

	// The next task takes the next owner nonce and its own environment.
	res2, err := e.ScheduleTask(ctx, "acct:alice", okProgram, 80_000, 10, 50_000, []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("second ScheduleTask: %v", err)
	}
	if res2.Nonce != 1 {
		t.Errorf("second Nonce = %d, want 1", res2.Nonce)
	}
	if res2.TaskID == res.TaskID || res2.EnvironmentID == res.EnvironmentID {
		t.Error("second schedule reused task or environment identity")
	}
}

func TestScheduleTask_Validation(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	tests := []struct {
		name   string
		owner  model.Address
		gas    model.Gas
		slot   model.Slot
		maxFee model.Fee
		code   model.ErrorCode
	}{
		{"empty owner", "", 80_000, 10, 50_000, model.ErrValidation},
		{"target not in future", "acct:alice", 80_000, 0, 50_000, model.ErrTargetInPast},
		{"target beyond horizon", "acct:alice", 80_000, 100_001, 50_000, model.ErrTargetTooFar},
		{"gas above largest tier", "acct:alice", 800_000, 10, 50_000, model.ErrTaskGasTooLarge},
		{"quote above max fee", "acct:alice", 80_000, 10, 5_000, model.ErrCostAboveMax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ScheduleTask(ctx, tt.owner, okProgram, tt.gas, tt.slot, tt.maxFee, nil)
			if !model.IsCode(err, tt.code) {
				t.Errorf("error = %v, want code %s", err, tt.code)
			}
		})
	}

	// Nothing was scheduled and nothing was charged.
	total, _, err := e.TaskCounts(ctx)
	if err != nil {
		t.Fatalf("TaskCounts: %v", err)
	}
	if total != 0 {
		t.Errorf("task count = %d, want 0 after rejected schedules", total)
	}
	if got := available(t, e, "acct:alice"); got != 1_000_000 {
		t.Errorf("owner available = %d, want untouched 1_000_000", got)
	}
}

func TestScheduleTask_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	fund(t, e, "acct:poor", 5_000)

	_, err := e.ScheduleTask(ctx, "acct:poor", okProgram, 80_000, 10, 50_000, nil)
	if !model.IsCode(err, model.ErrInsufficientBond) {
		t.Fatalf("error = %v, want INSUFFICIENT_BOND", err)
	}

	// The partial withdrawal was restored and no task row exists.
	if got := available(t, e, "acct:poor"); got != 5_000 {
		t.Errorf("owner available = %d, want restored 5_000", got)
	}
	if got := available(t, e, "sys:escrow"); got != 0 {
		t.Errorf("escrow = %d, want 0", got)
	}
	total, _, err := e.TaskCounts(ctx)
	if err != nil {
		t.Fatalf("TaskCounts: %v", err)
	}
	if total != 0 {
		t.Errorf("task count = %d, want 0", total)
	}
}

func TestScheduleWithBond(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	res, err := e.ScheduleWithBond(ctx, "acct:alice", okProgram, 80_000, 10, 50_000, nil)
	if err != nil {
		t.Fatalf("ScheduleWithBond: %v", err)
	}

	task, err := e.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !task.Bonded || task.HoldID == "" {
		t.Fatalf("task bonded=%v hold=%q, want an active hold", task.Bonded, task.HoldID)
	}

	bal, err := e.Balance(ctx, "acct:alice")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Bonded != 1_000_000 || bal.Held != res.Fee {
		t.Errorf("balance = %d held %d, want bond intact with fee held", bal.Bonded, bal.Held)
	}
	if got := available(t, e, "sys:escrow"); got != 0 {
		t.Errorf("escrow = %d, want 0 for bonded funding", got)
	}

	// Cancelling releases the hold in place of a transfer.
	if err := e.Cancel(ctx, "acct:alice", res.TaskID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	bal, err = e.Balance(ctx, "acct:alice")
	if err != nil {
		t.Fatalf("Balance after cancel: %v", err)
	}
	if bal.Held != 0 || bal.Available != 1_000_000 {
		t.Errorf("after cancel held=%d available=%d, want hold released", bal.Held, bal.Available)
	}

	fund(t, e, "acct:poor", 5_000)
	_, err = e.ScheduleWithBond(ctx, "acct:poor", okProgram, 80_000, 10, 50_000, nil)
	if !model.IsCode(err, model.ErrInsufficientBond) {
		t.Errorf("underfunded bond error = %v, want INSUFFICIENT_BOND", err)
	}
}

func TestEstimateMatchesSchedule(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	est, err := e.EstimateCost(ctx, 80_000, 10)
	if err != nil {
		t.Fatalf("EstimateCost: %v", err)
	}
	res := mustSchedule(t, e, "acct:alice", okProgram, 80_000, 10)
	if res.Fee != est.Fee {
		t.Errorf("schedule fee = %d, estimate said %d", res.Fee, est.Fee)
	}
	if est.Tier != model.TierSmall {
		t.Errorf("estimate tier = %v, want small", est.Tier)
	}

	if _, err := e.EstimateCost(ctx, 800_000, 10); !model.IsCode(err, model.ErrTaskGasTooLarge) {
		t.Errorf("oversized estimate error = %v, want TASK_GAS_TOO_LARGE", err)
	}
}

func TestExecuteTasks_EndToEnd(t *testing.T) {
	ctx := context.Background()
	e, clock := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	res := mustSchedule(t, e, "acct:alice", okProgram, 80_000, 5)
	if res.Fee != 11_375 {
		t.Fatalf("fee = %d, want 11_375 five slots out", res.Fee)
	}

	clock.Set(5)
	pass, err := e.ExecuteTasks(ctx, "val:7", 1_000_000, 0)
	if err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	if len(pass.Executed) != 1 {
		t.Fatalf("executed %d tasks, want 1", len(pass.Executed))
	}
	got := pass.Executed[0]
	if got.TaskID != res.TaskID || !got.OK || got.Rescheduled {
		t.Errorf("executed = %+v, want clean run of the scheduled task", got)
	}
	if got.Slot != 5 || got.FeeCollected != 11_375 {
		t.Errorf("slot=%d fee=%d, want 5/11_375", got.Slot, got.FeeCollected)
	}

	protocol, validator, executor := model.SplitFee(11_375)
	if pass.FeesEarned != executor || got.ExecutorShare != executor {
		t.Errorf("fees earned = %d, want executor share %d", pass.FeesEarned, executor)
	}
	if pass.BudgetSpent != 120_000 {
		t.Errorf("budget spent = %d, want small ceiling plus settlement overhead", pass.BudgetSpent)
	}

	task, err := e.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !task.Executed || !task.Consumed || task.ExecutedAt == nil {
		t.Errorf("task executed=%v consumed=%v, want both set", task.Executed, task.Consumed)
	}
	if task.FeePaid != executor {
		t.Errorf("FeePaid = %d, want executor share %d", task.FeePaid, executor)
	}
	meta, err := e.TaskMetadata(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("TaskMetadata: %v", err)
	}
	if meta.Active {
		t.Error("metadata still reports the task active")
	}

	// The escrowed fee split three ways and left escrow empty.
	if got := available(t, e, "sys:escrow"); got != 0 {
		t.Errorf("escrow = %d, want 0", got)
	}
	if got := available(t, e, "sys:protocol"); got != protocol {
		t.Errorf("protocol pool = %d, want %d", got, protocol)
	}
	if got := available(t, e, "sys:validators"); got != validator {
		t.Errorf("validator pool = %d, want %d", got, validator)
	}
	if got := available(t, e, "val:7"); got != executor {
		t.Errorf("executor payout = %d, want %d", got, executor)
	}

	// Executed tasks cannot be cancelled and never run twice.
	if err := e.Cancel(ctx, "acct:alice", res.TaskID); !model.IsCode(err, model.ErrTaskNotActive) {
		t.Errorf("cancel after execution = %v, want TASK_NOT_ACTIVE", err)
	}
	again, err := e.ExecuteTasks(ctx, "val:7", 1_000_000, 0)
	if err != nil {
		t.Fatalf("second ExecuteTasks: %v", err)
	}
	if len(again.Executed) != 0 || again.FeesEarned != 0 {
		t.Errorf("second pass executed %d earned %d, want an empty pass", len(again.Executed), again.FeesEarned)
	}
}

func TestExecuteTasks_PayoutRequired(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.ExecuteTasks(context.Background(), model.ZeroAddress, 1_000_000, 0)
	if !model.IsCode(err, model.ErrZeroPayoutTarget) {
		t.Errorf("error = %v, want ZERO_PAYOUT_TARGET", err)
	}
}

func TestExecuteTasks_FailureStillSettles(t *testing.T) {
	ctx := context.Background()
	e, clock := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	res := mustSchedule(t, e, "acct:alice",
		`function main(payload) { throw new Error("boom"); }`, 80_000, 5)

	clock.Set(5)
	pass, err := e.ExecuteTasks(ctx, "val:7", 1_000_000, 0)
	if err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	if len(pass.Executed) != 1 {
		t.Fatalf("executed %d tasks, want 1", len(pass.Executed))
	}
	got := pass.Executed[0]
	if got.OK {
		t.Error("run reported ok for a throwing program")
	}
	if !strings.Contains(got.Error, "boom") {
		t.Errorf("error = %q, want the thrown message", got.Error)
	}
	if got.FeeCollected != res.Fee {
		t.Errorf("fee collected = %d, want %d despite the failure", got.FeeCollected, res.Fee)
	}

	task, err := e.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !task.Executed || !strings.Contains(task.LastError, "boom") {
		t.Errorf("task executed=%v last_error=%q, want consumed with the failure recorded", task.Executed, task.LastError)
	}

	_, _, executor := model.SplitFee(res.Fee)
	if got := available(t, e, "val:7"); got != executor {
		t.Errorf("executor payout = %d, want %d", got, executor)
	}
}

func TestExecuteTasks_ReentrantCallRecorded(t *testing.T) {
	ctx := context.Background()
	e, clock := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	res := mustSchedule(t, e, "acct:alice",
		`function main(payload) { scheduler.cancel(); return true; }`, 80_000, 5)

	clock.Set(5)
	pass, err := e.ExecuteTasks(ctx, "val:7", 1_000_000, 0)
	if err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	if len(pass.Executed) != 1 || pass.Executed[0].OK {
		t.Fatalf("pass = %+v, want one failed run", pass.Executed)
	}

	task, err := e.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !strings.Contains(task.LastError, string(model.ErrReentrancy)) {
		t.Errorf("last_error = %q, want the reentrancy rejection", task.LastError)
	}
}

func TestCancelThenExecute(t *testing.T) {
	ctx := context.Background()
	e, clock := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	res := mustSchedule(t, e, "acct:alice", okProgram, 80_000, 5)
	if err := e.Cancel(ctx, "acct:alice", res.TaskID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := available(t, e, "acct:alice"); got != 1_000_000 {
		t.Errorf("owner available = %d, want full refund", got)
	}

	task, err := e.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !task.Cancelled || task.Consumed {
		t.Fatalf("cancelled=%v consumed=%v, want flagged but not yet drained", task.Cancelled, task.Consumed)
	}

	// The iterator drains the entry for free and charges nobody.
	clock.Set(5)
	pass, err := e.ExecuteTasks(ctx, "val:7", 1_000_000, 0)
	if err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	if len(pass.Executed) != 0 || pass.FeesEarned != 0 || pass.BudgetSpent != 0 {
		t.Errorf("pass = %+v, want nothing executed or charged", pass)
	}

	task, err = e.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask after drain: %v", err)
	}
	if !task.Consumed {
		t.Error("queue entry not drained for the cancelled task")
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	tr, err := tx.GetTracker(model.TierSmall, model.DepthSlot, 5)
	if err != nil {
		t.Fatalf("GetTracker: %v", err)
	}
	if tr == nil || !tr.Drained() {
		t.Fatalf("slot tracker = %+v, want drained", tr)
	}
	if tr.FeesCollected != 0 {
		t.Errorf("FeesCollected = %d, want 0 for a cancelled drain", tr.FeesCollected)
	}
}

func TestCancel_Authorization(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	res := mustSchedule(t, e, "acct:alice", okProgram, 80_000, 10)

	if err := e.Cancel(ctx, model.ZeroAddress, res.TaskID); !model.IsCode(err, model.ErrValidation) {
		t.Errorf("zero caller = %v, want VALIDATION_ERROR", err)
	}
	if err := e.Cancel(ctx, "acct:bob", res.TaskID); !model.IsCode(err, model.ErrNotAuthorized) {
		t.Errorf("stranger cancel = %v, want NOT_AUTHORIZED", err)
	}
	if err := e.Cancel(ctx, "acct:alice", "t_missing"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("missing task = %v, want NOT_FOUND", err)
	}

	// A task canceller added by the owner may cancel this one task.
	if err := e.AddTaskCanceller(ctx, "acct:bob", res.TaskID, "acct:bob"); !model.IsCode(err, model.ErrNotAuthorized) {
		t.Errorf("stranger granting = %v, want NOT_AUTHORIZED", err)
	}
	if err := e.AddTaskCanceller(ctx, "acct:alice", res.TaskID, "acct:bob"); err != nil {
		t.Fatalf("AddTaskCanceller: %v", err)
	}
	cancellers, err := e.ListTaskCancellers(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("ListTaskCancellers: %v", err)
	}
	if len(cancellers) != 1 || cancellers[0] != "acct:bob" {
		t.Errorf("cancellers = %v, want [acct:bob]", cancellers)
	}
	if err := e.Cancel(ctx, "acct:bob", res.TaskID); err != nil {
		t.Fatalf("canceller cancel: %v", err)
	}
	if err := e.Cancel(ctx, "acct:alice", res.TaskID); !model.IsCode(err, model.ErrTaskNotActive) {
		t.Errorf("double cancel = %v, want TASK_NOT_ACTIVE", err)
	}

	// An environment canceller may cancel every task sharing the
	// environment, without per-task grants.
	res2 := mustSchedule(t, e, "acct:alice", okProgram, 80_000, 11)
	if err := e.AddEnvironmentCanceller(ctx, "acct:alice", res2.EnvironmentID, "acct:carol"); err != nil {
		t.Fatalf("AddEnvironmentCanceller: %v", err)
	}
	if err := e.Cancel(ctx, "acct:carol", res2.TaskID); err != nil {
		t.Fatalf("environment canceller cancel: %v", err)
	}

	// Both fees came back to the owner.
	if got := available(t, e, "acct:alice"); got != 1_000_000 {
		t.Errorf("owner available = %d, want 1_000_000 after refunds", got)
	}
}

func TestCancellerRegistry(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	res := mustSchedule(t, e, "acct:alice", okProgram, 80_000, 10)

	if err := e.AddTaskCanceller(ctx, "acct:alice", res.TaskID, model.ZeroAddress); !model.IsCode(err, model.ErrValidation) {
		t.Errorf("zero canceller = %v, want VALIDATION_ERROR", err)
	}
	if err := e.AddTaskCanceller(ctx, "acct:alice", "t_missing", "acct:bob"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("missing task = %v, want NOT_FOUND", err)
	}
	if err := e.AddEnvironmentCanceller(ctx, "acct:alice", "env_missing", "acct:bob"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("missing environment = %v, want NOT_FOUND", err)
	}

	if err := e.AddTaskCanceller(ctx, "acct:alice", res.TaskID, "acct:bob"); err != nil {
		t.Fatalf("AddTaskCanceller: %v", err)
	}
	if err := e.RemoveTaskCanceller(ctx, "acct:alice", res.TaskID, "acct:bob"); err != nil {
		t.Fatalf("RemoveTaskCanceller: %v", err)
	}
	cancellers, err := e.ListTaskCancellers(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("ListTaskCancellers: %v", err)
	}
	if len(cancellers) != 0 {
		t.Errorf("cancellers = %v, want empty after removal", cancellers)
	}
	if err := e.Cancel(ctx, "acct:bob", res.TaskID); !model.IsCode(err, model.ErrNotAuthorized) {
		t.Errorf("revoked canceller = %v, want NOT_AUTHORIZED", err)
	}

	if err := e.AddEnvironmentCanceller(ctx, "acct:alice", res.EnvironmentID, "acct:carol"); err != nil {
		t.Fatalf("AddEnvironmentCanceller: %v", err)
	}
	envCancellers, err := e.ListEnvironmentCancellers(ctx, res.EnvironmentID)
	if err != nil {
		t.Fatalf("ListEnvironmentCancellers: %v", err)
	}
	if len(envCancellers) != 1 || envCancellers[0] != "acct:carol" {
		t.Errorf("environment cancellers = %v, want [acct:carol]", envCancellers)
	}
	if err := e.RemoveEnvironmentCanceller(ctx, "acct:bob", res.EnvironmentID, "acct:carol"); !model.IsCode(err, model.ErrNotAuthorized) {
		t.Errorf("stranger revoking = %v, want NOT_AUTHORIZED", err)
	}
	if err := e.RemoveEnvironmentCanceller(ctx, "acct:alice", res.EnvironmentID, "acct:carol"); err != nil {
		t.Fatalf("RemoveEnvironmentCanceller: %v", err)
	}
}

func TestReschedule_SelfRetry(t *testing.T) {
	ctx := context.Background()
	e, clock := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	// The program defers itself once, then lets the retry complete.
	program := `function main(payload) {
		if (task.target_slot < 10) {
			scheduler.reschedule(task.target_slot + 5, 100000);
		}
		return true;
	}`
	res := mustSchedule(t, e, "acct:alice", program, 80_000, 5)
	firstFee := res.Fee

	clock.Set(5)
	pass, err := e.ExecuteTasks(ctx, "val:7", 1_000_000, 0)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if len(pass.Executed) != 1 || !pass.Executed[0].Rescheduled || !pass.Executed[0].OK {
		t.Fatalf("first pass = %+v, want one rescheduled run", pass.Executed)
	}
	if pass.Executed[0].FeeCollected != firstFee {
		t.Errorf("collected = %d, want the original fee %d", pass.Executed[0].FeeCollected, firstFee)
	}

	_, _, executor := model.SplitFee(firstFee)
	task, err := e.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !task.Active() {
		t.Fatal("rescheduled task no longer active")
	}
	if task.TargetSlot != 10 || task.Reschedules != 1 {
		t.Errorf("target=%d reschedules=%d, want 10/1", task.TargetSlot, task.Reschedules)
	}
	if task.FeePaid != executor {
		t.Errorf("FeePaid = %d, want first attempt's executor share %d", task.FeePaid, executor)
	}
	secondFee := task.FeeCharged
	if got := available(t, e, "sys:escrow"); got != secondFee {
		t.Errorf("escrow = %d, want the retry fee %d parked", got, secondFee)
	}

	clock.Set(10)
	pass, err = e.ExecuteTasks(ctx, "val:7", 1_000_000, 0)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(pass.Executed) != 1 || pass.Executed[0].Rescheduled {
		t.Fatalf("second pass = %+v, want a final run", pass.Executed)
	}

	_, _, executor2 := model.SplitFee(secondFee)
	task, err = e.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask after retry: %v", err)
	}
	if !task.Executed {
		t.Error("task not executed after the retry")
	}
	if task.FeePaid != executor+executor2 {
		t.Errorf("FeePaid = %d, want both attempts %d", task.FeePaid, executor+executor2)
	}
	if got := available(t, e, "acct:alice"); got != 1_000_000-firstFee-secondFee {
		t.Errorf("owner available = %d, want both fees spent", got)
	}
	if got := available(t, e, "val:7"); got != executor+executor2 {
		t.Errorf("executor payout = %d, want %d", got, executor+executor2)
	}
	if got := available(t, e, "sys:escrow"); got != 0 {
		t.Errorf("escrow = %d, want drained", got)
	}
}

func TestReschedule_SecondCallRejected(t *testing.T) {
	ctx := context.Background()
	e, clock := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	program := `function main(payload) {
		scheduler.reschedule(task.target_slot + 5, 100000);
		try {
			scheduler.reschedule(task.target_slot + 6, 100000);
		} catch (e) {
			return String(e).indexOf("ALREADY_RESCHEDULED") >= 0;
		}
		return false;
	}`
	res := mustSchedule(t, e, "acct:alice", program, 80_000, 5)

	clock.Set(5)
	pass, err := e.ExecuteTasks(ctx, "val:7", 1_000_000, 0)
	if err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	if len(pass.Executed) != 1 || !pass.Executed[0].OK || !pass.Executed[0].Rescheduled {
		t.Fatalf("pass = %+v, want the second call rejected inside a clean run", pass.Executed)
	}

	task, err := e.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.TargetSlot != 10 || task.Reschedules != 1 {
		t.Errorf("target=%d reschedules=%d, want only the first call applied", task.TargetSlot, task.Reschedules)
	}
}

func TestReschedule_RequiresRunningTask(t *testing.T) {
	e, _ := testEngine(t)
	err := e.Reschedule(context.Background(), 10, 100_000)
	if !model.IsCode(err, model.ErrMustRescheduleSelf) {
		t.Errorf("idle reschedule = %v, want MUST_RESCHEDULE_SELF", err)
	}
}

func TestExecute_PriorityAndExactlyOnce(t *testing.T) {
	ctx := context.Background()
	e, clock := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	s3 := mustSchedule(t, e, "acct:alice", okProgram, 80_000, 3)
	s4 := mustSchedule(t, e, "acct:alice", okProgram, 80_000, 4)
	s5 := mustSchedule(t, e, "acct:alice", okProgram, 80_000, 5)
	m3 := mustSchedule(t, e, "acct:alice", okProgram, 250_000, 3)
	l4 := mustSchedule(t, e, "acct:alice", okProgram, 600_000, 4)

	clock.Set(5)
	pass, err := e.ExecuteTasks(ctx, "val:7", 10_000_000, 0)
	if err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}

	// Larger tiers drain first; within a tier, slots drain in order.
	want := []string{l4.TaskID, m3.TaskID, s3.TaskID, s4.TaskID, s5.TaskID}
	if len(pass.Executed) != len(want) {
		t.Fatalf("executed %d tasks, want %d", len(pass.Executed), len(want))
	}
	seen := make(map[string]int)
	for i, got := range pass.Executed {
		if got.TaskID != want[i] {
			t.Errorf("executed[%d] = %s, want %s", i, got.TaskID, want[i])
		}
		seen[got.TaskID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("task %s consumed %d times", id, n)
		}
	}
	if pass.BudgetSpent != 1_450_000 {
		t.Errorf("budget spent = %d, want the sum of tier debits", pass.BudgetSpent)
	}

	again, err := e.ExecuteTasks(ctx, "val:7", 10_000_000, 0)
	if err != nil {
		t.Fatalf("second ExecuteTasks: %v", err)
	}
	if len(again.Executed) != 0 {
		t.Errorf("second pass executed %d tasks, want 0", len(again.Executed))
	}
}

func TestExecute_BudgetBounds(t *testing.T) {
	ctx := context.Background()
	e, clock := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	small := mustSchedule(t, e, "acct:alice", okProgram, 80_000, 3)
	large := mustSchedule(t, e, "acct:alice", okProgram, 600_000, 3)
	clock.Set(3)

	// Below the cheapest tier's need nothing runs at all.
	pass, err := e.ExecuteTasks(ctx, "val:7", 100_000, 0)
	if err != nil {
		t.Fatalf("starved pass: %v", err)
	}
	if len(pass.Executed) != 0 || pass.BudgetSpent != 0 {
		t.Errorf("starved pass = %+v, want untouched", pass)
	}

	// A budget covering only the small tier skips the due large task
	// rather than blowing past the limit.
	pass, err = e.ExecuteTasks(ctx, "val:7", 200_000, 0)
	if err != nil {
		t.Fatalf("small-only pass: %v", err)
	}
	if len(pass.Executed) != 1 || pass.Executed[0].TaskID != small.TaskID {
		t.Fatalf("small-only pass = %+v, want just the small task", pass.Executed)
	}
	if pass.BudgetSpent != 120_000 {
		t.Errorf("budget spent = %d, want one small debit", pass.BudgetSpent)
	}

	task, err := e.GetTask(ctx, large.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Executed || task.Consumed {
		t.Fatal("large task consumed by an insufficient budget")
	}

	pass, err = e.ExecuteTasks(ctx, "val:7", 1_000_000, 0)
	if err != nil {
		t.Fatalf("large pass: %v", err)
	}
	if len(pass.Executed) != 1 || pass.Executed[0].TaskID != large.TaskID {
		t.Fatalf("large pass = %+v, want the deferred large task", pass.Executed)
	}
	if pass.BudgetSpent != 770_000 {
		t.Errorf("budget spent = %d, want one large debit", pass.BudgetSpent)
	}
}

func TestScheduleInRange(t *testing.T) {
	ctx := context.Background()
	e, clock := testEngine(t)
	fund(t, e, "acct:alice", 1_000_000)

	mustSchedule(t, e, "acct:alice", okProgram, 80_000, 2)
	mustSchedule(t, e, "acct:alice", okProgram, 80_000, 2)
	mustSchedule(t, e, "acct:alice", okProgram, 250_000, 3)

	rows, err := e.ScheduleInRange(ctx, 5)
	if err != nil {
		t.Fatalf("ScheduleInRange: %v", err)
	}
	if len(rows) != 5 || rows[0].Slot != 1 || rows[4].Slot != 5 {
		t.Fatalf("rows = %d starting at %d, want 5 from slot 1", len(rows), rows[0].Slot)
	}
	if got := rows[1].Pending[model.TierSmall]; got != 2 {
		t.Errorf("slot 2 small pending = %d, want 2", got)
	}
	if got := rows[2].Pending[model.TierMedium]; got != 1 {
		t.Errorf("slot 3 medium pending = %d, want 1", got)
	}
	if got := rows[0].Quotes[model.TierSmall]; got != 11_475 {
		t.Errorf("slot 1 small quote = %d, want 11_475", got)
	}

	if _, err := e.ScheduleInRange(ctx, 0); !model.IsCode(err, model.ErrValidation) {
		t.Errorf("zero lookahead = %v, want VALIDATION_ERROR", err)
	}
	if _, err := e.ScheduleInRange(ctx, 513); !model.IsCode(err, model.ErrLookaheadTooFar) {
		t.Errorf("oversized lookahead = %v, want LOOKAHEAD_EXCEEDS_MAX", err)
	}

	// Once everything drains the preview goes quiet.
	clock.Set(3)
	if _, err := e.ExecuteTasks(ctx, "val:7", 10_000_000, 0); err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	rows, err = e.ScheduleInRange(ctx, 5)
	if err != nil {
		t.Fatalf("ScheduleInRange after drain: %v", err)
	}
	for _, row := range rows {
		for _, tier := range model.Tiers() {
			if row.Pending[tier] != 0 {
				t.Errorf("slot %d %s pending = %d, want 0", row.Slot, tier, row.Pending[tier])
			}
		}
	}
}

func TestBalanceAndDeposit(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	if err := e.Deposit(ctx, model.ZeroAddress, 100); !model.IsCode(err, model.ErrValidation) {
		t.Errorf("zero address deposit = %v, want VALIDATION_ERROR", err)
	}
	if err := e.Deposit(ctx, "acct:alice", 0); !model.IsCode(err, model.ErrValidation) {
		t.Errorf("zero amount deposit = %v, want VALIDATION_ERROR", err)
	}
	if _, err := e.Balance(ctx, model.ZeroAddress); !model.IsCode(err, model.ErrValidation) {
		t.Errorf("zero address balance = %v, want VALIDATION_ERROR", err)
	}

	bal, err := e.Balance(ctx, "acct:unknown")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Bonded != 0 || bal.Held != 0 || bal.Available != 0 {
		t.Errorf("unknown account balance = %+v, want zeros", bal)
	}

	fund(t, e, "acct:alice", 42_000)
	bal, err = e.Balance(ctx, "acct:alice")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Available != 42_000 || bal.Address != "acct:alice" {
		t.Errorf("balance = %+v, want the deposit available", bal)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	if _, err := e.GetTask(ctx, "t_missing"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("GetTask = %v, want NOT_FOUND", err)
	}
	if _, err := e.TaskMetadata(ctx, "t_missing"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("TaskMetadata = %v, want NOT_FOUND", err)
	}
}
