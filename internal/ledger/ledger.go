// Package ledger tracks bonded account balances and fee holds. It is a
// deliberately separate subsystem with its own database: the engine
// treats it as an external collaborator and never reaches into its
// tables directly.
package ledger

import (
	"context"
	"errors"

	"github.com/me/slotq/pkg/model"
)

// ErrInsufficientFunds is returned by Hold when the owner's available
// balance (bonded minus held) cannot cover the requested amount.
var ErrInsufficientFunds = errors.New("insufficient available balance")

// ErrHoldNotFound is returned when a hold ID does not exist.
var ErrHoldNotFound = errors.New("hold not found")

// Ledger manages bonded balances. All mutations are atomic per call.
type Ledger interface {
	// Deposit adds to the owner's bonded balance.
	Deposit(ctx context.Context, owner model.Address, amount model.Fee) error

	// Credit adds to the owner's bonded balance. Semantically identical
	// to Deposit but used for engine-internal transfers (fee payouts,
	// escrow movement, refunds) so the two show up distinctly in logs.
	Credit(ctx context.Context, owner model.Address, amount model.Fee) error

	// Withdraw debits up to amount from the owner's available balance
	// and reports the shortfall. A deficit of zero means the full
	// amount was taken.
	Withdraw(ctx context.Context, owner model.Address, amount model.Fee) (deficit model.Fee, err error)

	// Hold reserves amount from the owner's available balance without
	// debiting it. Fails with ErrInsufficientFunds when the available
	// balance is too small.
	Hold(ctx context.Context, owner model.Address, amount model.Fee) (holdID string, err error)

	// ReleaseHold frees a hold, returning the amount to the available
	// balance.
	ReleaseHold(ctx context.Context, holdID string) error

	// ConsumeHold debits the held amount permanently and removes the
	// hold. Returns the consumed amount.
	ConsumeHold(ctx context.Context, holdID string) (model.Fee, error)

	// Balance reports the owner's bonded total and currently held part.
	Balance(ctx context.Context, owner model.Address) (bonded, held model.Fee, err error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
