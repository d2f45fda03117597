package engine

import (
	"context"
	"fmt"

	"github.com/me/slotq/internal/store"
	"github.com/me/slotq/pkg/model"
)

// AddTaskCanceller authorizes an address to cancel one specific task.
// Only the task owner may delegate.
func (e *Engine) AddTaskCanceller(ctx context.Context, caller model.Address, taskID string, canceller model.Address) error {
	return e.updateTaskACL(ctx, caller, taskID, canceller, store.Tx.AddTaskCanceller)
}

// RemoveTaskCanceller revokes a task cancellation delegation.
func (e *Engine) RemoveTaskCanceller(ctx context.Context, caller model.Address, taskID string, canceller model.Address) error {
	return e.updateTaskACL(ctx, caller, taskID, canceller, store.Tx.RemoveTaskCanceller)
}

// AddEnvironmentCanceller authorizes an address to cancel every task
// under one environment. Only the environment owner may delegate.
func (e *Engine) AddEnvironmentCanceller(ctx context.Context, caller model.Address, envID string, canceller model.Address) error {
	return e.updateEnvACL(ctx, caller, envID, canceller, store.Tx.AddEnvCanceller)
}

// RemoveEnvironmentCanceller revokes an environment cancellation
// delegation.
func (e *Engine) RemoveEnvironmentCanceller(ctx context.Context, caller model.Address, envID string, canceller model.Address) error {
	return e.updateEnvACL(ctx, caller, envID, canceller, store.Tx.RemoveEnvCanceller)
}

// ListTaskCancellers returns the addresses delegated for one task.
func (e *Engine) ListTaskCancellers(ctx context.Context, taskID string) ([]model.Address, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return tx.ListTaskCancellers(taskID)
}

// ListEnvironmentCancellers returns the addresses delegated for one
// environment.
func (e *Engine) ListEnvironmentCancellers(ctx context.Context, envID string) ([]model.Address, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return tx.ListEnvCancellers(envID)
}

func (e *Engine) updateTaskACL(ctx context.Context, caller model.Address, taskID string, canceller model.Address, apply func(store.Tx, string, model.Address) error) error {
	if canceller == model.ZeroAddress {
		return model.NewValidationError("canceller address is required")
	}
	if err := e.lockIdle(); err != nil {
		return err
	}
	defer e.mu.Unlock()

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
	if task.Owner != caller {
		return model.Errorf(model.ErrNotAuthorized, "%s does not own task %s", caller, taskID)
	}

	if err := apply(tx, taskID, canceller); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit canceller update: %w", err)
	}
	return nil
}

func (e *Engine) updateEnvACL(ctx context.Context, caller model.Address, envID string, canceller model.Address, apply func(store.Tx, string, model.Address) error) error {
	if canceller == model.ZeroAddress {
		return model.NewValidationError("canceller address is required")
	}
	if err := e.lockIdle(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	env, err := tx.GetEnvironment(envID)
	if err != nil {
		return err
	}
	if env == nil {
		return model.NewNotFoundError("environment", envID)
	}
	if env.Owner != caller {
		return model.Errorf(model.ErrNotAuthorized, "%s does not own environment %s", caller, envID)
	}

	if err := apply(tx, envID, canceller); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit canceller update: %w", err)
	}
	return nil
}
