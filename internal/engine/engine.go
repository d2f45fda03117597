// Package engine implements the deferred task scheduler: fee quoting
// against hierarchical slot statistics, queue allocation in tier
// priority order, environment execution and fee settlement. One engine
// call is one storage transaction; the ledger is a separate system and
// is only touched once the transactional work cannot fail validation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/me/slotq/internal/config"
	"github.com/me/slotq/internal/envrt"
	"github.com/me/slotq/internal/ledger"
	"github.com/me/slotq/internal/store"
	"github.com/me/slotq/pkg/model"
)

// Engine is the externally reachable surface. All mutating operations
// serialize on one mutex; the exec field tracks the task currently
// being executed so calls arriving from inside a running program are
// rejected, except the single sanctioned reschedule.
type Engine struct {
	cfg     config.EngineConfig
	store   store.Store
	ledger  ledger.Ledger
	factory *envrt.Factory
	runtime *envrt.Runtime
	clock   Clock
	logger  *slog.Logger

	mu   sync.Mutex
	exec *execContext
}

// execContext is the in-flight execution state: which task is running
// and whether it has used its one reschedule. A storage failure inside
// the reschedule callback lands in fatal and aborts the whole pass
// even if the program swallows the thrown error.
type execContext struct {
	taskID      string
	envID       string
	rescheduled bool
	fatal       error
	reschedule  func(model.Slot, model.Fee) error
}

// Reschedule implements envrt.Host for the running program.
func (ec *execContext) Reschedule(newSlot model.Slot, newMaxFee model.Fee) error {
	return ec.reschedule(newSlot, newMaxFee)
}

// NewEngine wires the engine over its storage, ledger and clock.
func NewEngine(cfg config.EngineConfig, st store.Store, led ledger.Ledger, clock Clock, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   st,
		ledger:  led,
		factory: envrt.NewFactory(logger),
		runtime: envrt.NewRuntime(logger),
		clock:   clock,
		logger:  logger.With("component", "engine"),
	}
}

// Runtime exposes the environment runtime, letting the retention
// sweeper drop compiled programs for deleted environments.
func (e *Engine) Runtime() *envrt.Runtime {
	return e.runtime
}

// CurrentSlot returns the slot covering the present moment.
func (e *Engine) CurrentSlot() model.Slot {
	return e.clock.Now()
}

// lockIdle acquires the engine for one external operation; on success
// the caller owns the mutex and must release it. exec is set and
// cleared while the mutex is held, so a caller that wins the lock
// always observes nil; the check asserts that invariant. Re-entrant
// calls from a running program never reach here, they are rejected
// inside the environment runtime bindings.
func (e *Engine) lockIdle() error {
	e.mu.Lock()
	if e.exec != nil {
		taskID := e.exec.taskID
		e.mu.Unlock()
		return model.Errorf(model.ErrReentrancy, "engine is executing task %s", taskID)
	}
	return nil
}

// Reschedule retargets the task currently being executed. Only the
// running program itself can reach the live execution: the engine is
// locked for the whole execution pass, so an external caller always
// finds nothing in flight.
func (e *Engine) Reschedule(ctx context.Context, newSlot model.Slot, newMaxFee model.Fee) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exec == nil {
		return model.Errorf(model.ErrMustRescheduleSelf, "no task is executing; reschedule is only available to the running task")
	}
	return e.exec.reschedule(newSlot, newMaxFee)
}

// GetTask returns the full task record.
func (e *Engine) GetTask(ctx context.Context, id string) (*model.Task, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	task, err := tx.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, model.NewNotFoundError("task", id)
	}
	return task, nil
}

// TaskMetadata returns the compact scheduling view of a task.
func (e *Engine) TaskMetadata(ctx context.Context, id string) (*model.TaskMetadata, error) {
	task, err := e.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	md := task.Metadata()
	return &md, nil
}

// ListTasks returns tasks matching the options plus the total count.
func (e *Engine) ListTasks(ctx context.Context, opts model.ListOptions) ([]*model.Task, int, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()
	return tx.ListTasks(opts)
}

// TaskCounts reports total and pending task counts.
func (e *Engine) TaskCounts(ctx context.Context) (total, pending int, err error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()
	return tx.CountTasks()
}

// Balance reports an account's ledger position.
func (e *Engine) Balance(ctx context.Context, addr model.Address) (*model.BalanceResult, error) {
	if addr == model.ZeroAddress {
		return nil, model.NewValidationError("address is required")
	}
	bonded, held, err := e.ledger.Balance(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	return &model.BalanceResult{
		Address:   addr,
		Bonded:    bonded,
		Held:      held,
		Available: bonded - held,
	}, nil
}

// Deposit adds to an account's bonded balance.
func (e *Engine) Deposit(ctx context.Context, addr model.Address, amount model.Fee) error {
	if addr == model.ZeroAddress {
		return model.NewValidationError("address is required")
	}
	if amount == 0 {
		return model.NewValidationError("amount must be positive")
	}
	return e.ledger.Deposit(ctx, addr, amount)
}
