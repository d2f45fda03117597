// Package envrt builds and runs task environments: content-addressed
// bundles of a JavaScript program plus the payload it will receive.
// The factory allocates environments inside the scheduling
// transaction; the runtime invokes them under a gas watchdog.
package envrt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"github.com/me/slotq/internal/store"
	"github.com/me/slotq/pkg/model"
)

// Factory allocates environments. The environment ID is a pure
// function of (owner, nonce, implementation, payload), so creation is
// idempotent: repeated calls with identical inputs return the row
// already on disk without re-allocating.
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates an environment factory.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger.With("component", "envrt")}
}

// GetOrCreate returns the environment for the given tuple, allocating
// it when absent. The bool reports whether a new row was written. A
// program that does not compile fails the call, which rolls back the
// surrounding scheduling transaction.
func (f *Factory) GetOrCreate(tx store.Tx, owner model.Address, nonce model.Nonce, implementation string, payload []byte) (*model.Environment, bool, error) {
	if implementation == "" {
		return nil, false, model.NewValidationError("implementation is required")
	}
	if len(implementation) > model.MaxProgramBytes {
		return nil, false, model.Errorf(model.ErrValidation,
			"implementation is %d bytes, limit is %d", len(implementation), model.MaxProgramBytes)
	}
	if len(payload) > model.MaxPayloadBytes {
		return nil, false, model.Errorf(model.ErrValidation,
			"payload is %d bytes, limit is %d", len(payload), model.MaxPayloadBytes)
	}

	hash := model.ProgramHash(implementation)
	id := model.EnvironmentID(owner, nonce, hash, payload)

	existing, err := tx.GetEnvironment(id)
	if err != nil {
		return nil, false, fmt.Errorf("lookup environment: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	// Reject programs that cannot parse before anything is persisted.
	if _, err := goja.Compile(id, implementation, false); err != nil {
		return nil, false, model.Errorf(model.ErrValidation, "implementation does not compile: %v", err)
	}

	env := &model.Environment{
		ID:             id,
		Owner:          owner,
		Nonce:          nonce,
		ProgramHash:    hash,
		Implementation: implementation,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}
	if err := tx.CreateEnvironment(env); err != nil {
		return nil, false, fmt.Errorf("create environment: %w", err)
	}
	f.logger.Debug("environment created",
		"env_id", id,
		"owner", owner,
		"program_bytes", len(implementation),
		"payload_bytes", len(payload))
	return env, true, nil
}
