package ledger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
)

func testLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	l, err := NewSQLiteLedger(":memory:", logger)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	if err := l.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestDepositAndBalance(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	bonded, held, err := l.Balance(ctx, "acct:alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bonded != 0 || held != 0 {
		t.Errorf("fresh account = %d/%d, want 0/0", bonded, held)
	}

	if err := l.Deposit(ctx, "acct:alice", 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Deposit(ctx, "acct:alice", 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	bonded, held, err = l.Balance(ctx, "acct:alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bonded != 150_000 || held != 0 {
		t.Errorf("balance = %d/%d, want 150000/0", bonded, held)
	}
}

func TestWithdraw(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	if err := l.Deposit(ctx, "acct:alice", 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	deficit, err := l.Withdraw(ctx, "acct:alice", 30_000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if deficit != 0 {
		t.Errorf("deficit = %d, want 0", deficit)
	}

	// Withdraw more than available: takes the remainder, reports deficit.
	deficit, err = l.Withdraw(ctx, "acct:alice", 100_000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if deficit != 30_000 {
		t.Errorf("deficit = %d, want 30000", deficit)
	}

	bonded, _, err := l.Balance(ctx, "acct:alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bonded != 0 {
		t.Errorf("bonded = %d, want 0", bonded)
	}

	// Unknown account: full deficit, no error.
	deficit, err = l.Withdraw(ctx, "acct:ghost", 500)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if deficit != 500 {
		t.Errorf("deficit = %d, want 500", deficit)
	}
}

func TestHoldLifecycle(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	if err := l.Deposit(ctx, "acct:alice", 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	holdID, err := l.Hold(ctx, "acct:alice", 40_000)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if holdID == "" {
		t.Fatal("empty hold id")
	}

	bonded, held, _ := l.Balance(ctx, "acct:alice")
	if bonded != 100_000 || held != 40_000 {
		t.Errorf("balance = %d/%d, want 100000/40000", bonded, held)
	}

	// Held funds are not available for withdrawal.
	deficit, err := l.Withdraw(ctx, "acct:alice", 80_000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if deficit != 20_000 {
		t.Errorf("deficit = %d, want 20000", deficit)
	}

	// Nor for further holds beyond the remainder.
	if _, err := l.Hold(ctx, "acct:alice", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}

	amount, err := l.ConsumeHold(ctx, holdID)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if amount != 40_000 {
		t.Errorf("consumed = %d, want 40000", amount)
	}

	bonded, held, _ = l.Balance(ctx, "acct:alice")
	if bonded != 0 || held != 0 {
		t.Errorf("balance = %d/%d, want 0/0", bonded, held)
	}

	// Consuming twice fails.
	if _, err := l.ConsumeHold(ctx, holdID); !errors.Is(err, ErrHoldNotFound) {
		t.Errorf("expected ErrHoldNotFound, got %v", err)
	}
}

func TestReleaseHold(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	if err := l.Deposit(ctx, "acct:alice", 50_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	holdID, err := l.Hold(ctx, "acct:alice", 50_000)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	if err := l.ReleaseHold(ctx, holdID); err != nil {
		t.Fatalf("release: %v", err)
	}

	bonded, held, _ := l.Balance(ctx, "acct:alice")
	if bonded != 50_000 || held != 0 {
		t.Errorf("balance = %d/%d, want 50000/0", bonded, held)
	}

	if err := l.ReleaseHold(ctx, holdID); !errors.Is(err, ErrHoldNotFound) {
		t.Errorf("expected ErrHoldNotFound, got %v", err)
	}
}

func TestHold_InsufficientFunds(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	if _, err := l.Hold(ctx, "acct:ghost", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestCredit(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	if err := l.Credit(ctx, "sys:protocol", 2_500); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Credit(ctx, "sys:protocol", 2_500); err != nil {
		t.Fatalf("credit: %v", err)
	}
	bonded, _, err := l.Balance(ctx, "sys:protocol")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bonded != 5_000 {
		t.Errorf("bonded = %d, want 5000", bonded)
	}
}
