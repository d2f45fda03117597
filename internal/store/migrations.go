package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all engine tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		owner       TEXT NOT NULL,
		nonce       INTEGER NOT NULL,
		tier        INTEGER NOT NULL,
		gas_limit   INTEGER NOT NULL,
		env_id      TEXT NOT NULL,
		target_slot INTEGER NOT NULL,
		fee_charged INTEGER NOT NULL DEFAULT 0,
		fee_paid    INTEGER NOT NULL DEFAULT 0,
		bonded      INTEGER NOT NULL DEFAULT 0,
		hold_id     TEXT NOT NULL DEFAULT '',
		cancelled   INTEGER NOT NULL DEFAULT 0,
		executed    INTEGER NOT NULL DEFAULT 0,
		consumed    INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		executed_at TEXT,
		UNIQUE (owner, nonce)
	)`,

	`CREATE TABLE IF NOT EXISTS nonces (
		owner      TEXT PRIMARY KEY,
		next_nonce INTEGER NOT NULL DEFAULT 0
	)`,

	// One row per scheduled task occurrence. idx is the arrival order
	// within (tier, slot); the iterator consumes entries in idx order.
	`CREATE TABLE IF NOT EXISTS queue_entries (
		tier    INTEGER NOT NULL,
		slot    INTEGER NOT NULL,
		idx     INTEGER NOT NULL,
		task_id TEXT NOT NULL,
		PRIMARY KEY (tier, slot, idx)
	)`,

	// Statistics trackers, one row per (tier, depth, coordinate).
	// children_lo/hi form the 128-bit occupancy bitmap of child nodes
	// that still hold pending tasks; unused at slot depth.
	`CREATE TABLE IF NOT EXISTS trackers (
		tier             INTEGER NOT NULL,
		depth            INTEGER NOT NULL,
		coord            INTEGER NOT NULL,
		total_tasks      INTEGER NOT NULL DEFAULT 0,
		executed_tasks   INTEGER NOT NULL DEFAULT 0,
		cumulative_delay INTEGER NOT NULL DEFAULT 0,
		fees_collected   INTEGER NOT NULL DEFAULT 0,
		fees_paid        INTEGER NOT NULL DEFAULT 0,
		children_lo      INTEGER NOT NULL DEFAULT 0,
		children_hi      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tier, depth, coord)
	)`,

	// Singleton row holding the per-tier iterator cursors and the
	// congestion pricing parameters.
	`CREATE TABLE IF NOT EXISTS balancer_state (
		id              INTEGER PRIMARY KEY CHECK (id = 1),
		cursor_small    INTEGER NOT NULL DEFAULT 0,
		cursor_medium   INTEGER NOT NULL DEFAULT 0,
		cursor_large    INTEGER NOT NULL DEFAULT 0,
		target_delay    INTEGER NOT NULL,
		growth_rate_bps INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS environments (
		id             TEXT PRIMARY KEY,
		owner          TEXT NOT NULL,
		nonce          INTEGER NOT NULL,
		program_hash   TEXT NOT NULL,
		implementation TEXT NOT NULL,
		payload        BLOB,
		created_at     TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS task_cancellers (
		task_id   TEXT NOT NULL,
		canceller TEXT NOT NULL,
		PRIMARY KEY (task_id, canceller)
	)`,

	`CREATE TABLE IF NOT EXISTS env_cancellers (
		env_id    TEXT NOT NULL,
		canceller TEXT NOT NULL,
		PRIMARY KEY (env_id, canceller)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner)`,
	// Sweep query: consumed tasks with old target slots.
	`CREATE INDEX IF NOT EXISTS idx_tasks_sweep ON tasks(consumed, target_slot)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_task ON queue_entries(task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_environments_owner ON environments(owner)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "tasks",
		column:   "last_error",
		alterSQL: "ALTER TABLE tasks ADD COLUMN last_error TEXT NOT NULL DEFAULT ''",
	},
	{
		table:    "tasks",
		column:   "reschedules",
		alterSQL: "ALTER TABLE tasks ADD COLUMN reschedules INTEGER NOT NULL DEFAULT 0",
	},
}

// migrate executes all schema DDL statements and alter migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	// Execute ALTER TABLE statements idempotently.
	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	// Query table info to check if column exists.
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil // Column already exists
		}
	}

	// Column doesn't exist, add it.
	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
