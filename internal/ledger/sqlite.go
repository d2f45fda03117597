package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/slotq/pkg/model"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		bonded  INTEGER NOT NULL DEFAULT 0,
		held    INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS holds (
		id         TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		amount     INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_holds_owner ON holds(owner)`,
}

// SQLiteLedger implements Ledger using its own SQLite database.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLedger opens (or creates) the ledger database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteLedger(dbPath string, logger *slog.Logger) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &SQLiteLedger{
		db:     db,
		logger: logger.With("component", "ledger"),
	}, nil
}

// Close closes the underlying database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Migrate creates all required tables and indexes.
func (l *SQLiteLedger) Migrate(ctx context.Context) error {
	l.logger.Debug("sql", "op", "migrate")
	for _, stmt := range schema {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (l *SQLiteLedger) Deposit(ctx context.Context, owner model.Address, amount model.Fee) error {
	l.logger.Debug("ledger", "op", "deposit", "owner", string(owner), "amount", uint64(amount))
	return l.addBonded(ctx, owner, amount)
}

func (l *SQLiteLedger) Credit(ctx context.Context, owner model.Address, amount model.Fee) error {
	l.logger.Debug("ledger", "op", "credit", "owner", string(owner), "amount", uint64(amount))
	return l.addBonded(ctx, owner, amount)
}

func (l *SQLiteLedger) addBonded(ctx context.Context, owner model.Address, amount model.Fee) error {
	if amount == 0 {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO accounts (address, bonded, held) VALUES (?, ?, 0)
		 ON CONFLICT (address) DO UPDATE SET bonded = bonded + excluded.bonded`,
		string(owner), int64(amount))
	return err
}

func (l *SQLiteLedger) Withdraw(ctx context.Context, owner model.Address, amount model.Fee) (model.Fee, error) {
	l.logger.Debug("ledger", "op", "withdraw", "owner", string(owner), "amount", uint64(amount))
	if amount == 0 {
		return 0, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	bonded, held, err := accountBalances(ctx, tx, owner)
	if err != nil {
		return 0, err
	}

	available := bonded - held
	take := amount
	if take > available {
		take = available
	}
	if take > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET bonded = bonded - ? WHERE address = ?`,
			int64(take), string(owner)); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return amount - take, nil
}

func (l *SQLiteLedger) Hold(ctx context.Context, owner model.Address, amount model.Fee) (string, error) {
	l.logger.Debug("ledger", "op", "hold", "owner", string(owner), "amount", uint64(amount))

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	bonded, held, err := accountBalances(ctx, tx, owner)
	if err != nil {
		return "", err
	}
	if bonded-held < amount {
		return "", fmt.Errorf("hold %d for %s: %w", amount, owner, ErrInsufficientFunds)
	}

	holdID := "hold_" + uuid.New().String()[:8]
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET held = held + ? WHERE address = ?`,
		int64(amount), string(owner)); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO holds (id, owner, amount, created_at) VALUES (?, ?, ?, ?)`,
		holdID, string(owner), int64(amount), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return holdID, nil
}

func (l *SQLiteLedger) ReleaseHold(ctx context.Context, holdID string) error {
	l.logger.Debug("ledger", "op", "release_hold", "hold_id", holdID)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	owner, amount, err := lookupHold(ctx, tx, holdID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET held = held - ? WHERE address = ?`,
		int64(amount), string(owner)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM holds WHERE id = ?`, holdID); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *SQLiteLedger) ConsumeHold(ctx context.Context, holdID string) (model.Fee, error) {
	l.logger.Debug("ledger", "op", "consume_hold", "hold_id", holdID)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	owner, amount, err := lookupHold(ctx, tx, holdID)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET bonded = bonded - ?, held = held - ? WHERE address = ?`,
		int64(amount), int64(amount), string(owner)); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM holds WHERE id = ?`, holdID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return amount, nil
}

func (l *SQLiteLedger) Balance(ctx context.Context, owner model.Address) (model.Fee, model.Fee, error) {
	var bonded, held int64
	err := l.db.QueryRowContext(ctx,
		`SELECT bonded, held FROM accounts WHERE address = ?`, string(owner)).
		Scan(&bonded, &held)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return model.Fee(bonded), model.Fee(held), nil
}

func accountBalances(ctx context.Context, tx *sql.Tx, owner model.Address) (bonded, held model.Fee, err error) {
	var b, h int64
	err = tx.QueryRowContext(ctx,
		`SELECT bonded, held FROM accounts WHERE address = ?`, string(owner)).Scan(&b, &h)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return model.Fee(b), model.Fee(h), nil
}

func lookupHold(ctx context.Context, tx *sql.Tx, holdID string) (model.Address, model.Fee, error) {
	var owner string
	var amount int64
	err := tx.QueryRowContext(ctx,
		`SELECT owner, amount FROM holds WHERE id = ?`, holdID).Scan(&owner, &amount)
	if err == sql.ErrNoRows {
		return "", 0, fmt.Errorf("hold %s: %w", holdID, ErrHoldNotFound)
	}
	if err != nil {
		return "", 0, err
	}
	return model.Address(owner), model.Fee(amount), nil
}
