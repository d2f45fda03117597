package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/slotq/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// Begin opens a transaction bound to ctx.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqliteTx{tx: tx, ctx: ctx, logger: s.logger}, nil
}

// sqliteTx implements Tx over a single database transaction. The
// context it was created with scopes every statement it runs.
type sqliteTx struct {
	tx     *sql.Tx
	ctx    context.Context
	logger *slog.Logger
}

func (t *sqliteTx) Commit() error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

// --- Task rows ---

const taskColumns = `id, owner, nonce, tier, gas_limit, env_id, target_slot,
	 fee_charged, fee_paid, bonded, hold_id, cancelled, executed, consumed,
	 created_at, executed_at, last_error, reschedules`

func (t *sqliteTx) CreateTask(task *model.Task) error {
	t.logger.Debug("sql", "op", "insert", "table", "tasks", "id", task.ID)

	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, string(task.Owner), int64(task.Nonce), int64(task.Tier), int64(task.GasLimit),
		task.EnvironmentID, int64(task.TargetSlot),
		int64(task.FeeCharged), int64(task.FeePaid), boolToInt(task.Bonded), task.HoldID,
		boolToInt(task.Cancelled), boolToInt(task.Executed), boolToInt(task.Consumed),
		task.CreatedAt.Format(time.RFC3339Nano), nullableTime(task.ExecutedAt),
		task.LastError, int64(task.Reschedules),
	)
	return err
}

func (t *sqliteTx) GetTask(id string) (*model.Task, error) {
	return t.scanTask(t.tx.QueryRowContext(t.ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
}

func (t *sqliteTx) GetTaskByNonce(owner model.Address, nonce model.Nonce) (*model.Task, error) {
	return t.scanTask(t.tx.QueryRowContext(t.ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner = ? AND nonce = ?`,
		string(owner), int64(nonce)))
}

func (t *sqliteTx) ListTasks(opts model.ListOptions) ([]*model.Task, int, error) {
	opts.Clamp()

	whereSQL := ""
	var args []any
	if opts.Owner != "" {
		whereSQL = " WHERE owner = ?"
		args = append(args, string(opts.Owner))
	}

	var total int
	if err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*) FROM tasks`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listArgs := append(args, opts.Limit, opts.Offset)
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+taskColumns+` FROM tasks`+whereSQL+
			` ORDER BY created_at DESC LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := t.scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}
	return tasks, total, rows.Err()
}

func (t *sqliteTx) MarkCancelled(id string) error {
	t.logger.Debug("sql", "op", "mark_cancelled", "table", "tasks", "id", id)

	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE tasks SET cancelled = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

func (t *sqliteTx) MarkConsumed(id string) error {
	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE tasks SET consumed = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

func (t *sqliteTx) MarkExecuted(id string, at time.Time, feePaid model.Fee, lastError string) error {
	t.logger.Debug("sql", "op", "mark_executed", "table", "tasks", "id", id)

	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE tasks SET executed = 1, consumed = 1, executed_at = ?,
		 fee_paid = fee_paid + ?, last_error = ? WHERE id = ?`,
		at.Format(time.RFC3339Nano), int64(feePaid), lastError, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

func (t *sqliteTx) RecordAttempt(id string, feePaid model.Fee, lastError string) error {
	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE tasks SET fee_paid = fee_paid + ?, last_error = ? WHERE id = ?`,
		int64(feePaid), lastError, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

func (t *sqliteTx) RetargetTask(id string, slot model.Slot, fee model.Fee, holdID string) error {
	t.logger.Debug("sql", "op", "retarget", "table", "tasks", "id", id, "slot", uint64(slot))

	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE tasks SET target_slot = ?, fee_charged = ?, hold_id = ?,
		 reschedules = reschedules + 1 WHERE id = ?`,
		int64(slot), int64(fee), holdID, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

func (t *sqliteTx) SweepCandidates(before model.Slot, limit int) ([]*model.Task, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE consumed = 1 AND target_slot < ?
		 ORDER BY target_slot LIMIT ?`, int64(before), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := t.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (t *sqliteTx) DeleteTasks(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	t.logger.Debug("sql", "op", "delete", "table", "tasks", "count", len(ids))

	placeholders, args := inClause(ids)
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM task_cancellers WHERE task_id IN (`+placeholders+`)`, args...); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM tasks WHERE id IN (`+placeholders+`)`, args...)
	return err
}

func (t *sqliteTx) CountTasks() (total, pending int, err error) {
	err = t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN cancelled = 0 AND executed = 0 THEN 1 ELSE 0 END), 0)
		 FROM tasks`).Scan(&total, &pending)
	return total, pending, err
}

// --- Nonces ---

func (t *sqliteTx) NextNonce(owner model.Address) (model.Nonce, error) {
	var next int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT next_nonce FROM nonces WHERE owner = ?`, string(owner)).Scan(&next)
	if err == sql.ErrNoRows {
		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO nonces (owner, next_nonce) VALUES (?, 1)`, string(owner)); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE nonces SET next_nonce = ? WHERE owner = ?`, next+1, string(owner)); err != nil {
		return 0, err
	}
	return model.Nonce(next), nil
}

// --- Queue entries ---

func (t *sqliteTx) AppendQueueEntry(tier model.Tier, slot model.Slot, idx uint64, taskID string) error {
	t.logger.Debug("sql", "op", "insert", "table", "queue_entries",
		"tier", tier.String(), "slot", uint64(slot), "idx", idx)

	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO queue_entries (tier, slot, idx, task_id) VALUES (?, ?, ?, ?)`,
		int64(tier), int64(slot), int64(idx), taskID)
	return err
}

func (t *sqliteTx) QueueEntryTask(tier model.Tier, slot model.Slot, idx uint64) (string, error) {
	var taskID string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT task_id FROM queue_entries WHERE tier = ? AND slot = ? AND idx = ?`,
		int64(tier), int64(slot), int64(idx)).Scan(&taskID)
	if err == sql.ErrNoRows {
		// Tracker counts promise an entry here; a miss is a corrupted queue.
		return "", fmt.Errorf("queue entry %s/%d/%d missing", tier, uint64(slot), idx)
	}
	if err != nil {
		return "", err
	}
	return taskID, nil
}

func (t *sqliteTx) DeleteQueueEntries(taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	placeholders, args := inClause(taskIDs)
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM queue_entries WHERE task_id IN (`+placeholders+`)`, args...)
	return err
}

// --- Statistics trackers ---

func (t *sqliteTx) GetTracker(tier model.Tier, depth model.Depth, coord uint64) (*model.Tracker, error) {
	var n model.Tracker
	var total, executed, delay, collected, paid, lo, hi int64

	err := t.tx.QueryRowContext(t.ctx,
		`SELECT total_tasks, executed_tasks, cumulative_delay, fees_collected, fees_paid,
		        children_lo, children_hi
		 FROM trackers WHERE tier = ? AND depth = ? AND coord = ?`,
		int64(tier), int64(depth), int64(coord)).
		Scan(&total, &executed, &delay, &collected, &paid, &lo, &hi)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	n.Tier, n.Depth, n.Coord = tier, depth, coord
	n.TotalTasks = uint64(total)
	n.ExecutedTasks = uint64(executed)
	n.CumulativeDelay = uint64(delay)
	n.FeesCollected = model.Fee(collected)
	n.FeesPaid = model.Fee(paid)
	n.Children = model.Bitmap128{Lo: uint64(lo), Hi: uint64(hi)}
	return &n, nil
}

func (t *sqliteTx) PutTracker(n *model.Tracker) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO trackers (tier, depth, coord, total_tasks, executed_tasks,
		        cumulative_delay, fees_collected, fees_paid, children_lo, children_hi)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tier, depth, coord) DO UPDATE SET
		        total_tasks = excluded.total_tasks,
		        executed_tasks = excluded.executed_tasks,
		        cumulative_delay = excluded.cumulative_delay,
		        fees_collected = excluded.fees_collected,
		        fees_paid = excluded.fees_paid,
		        children_lo = excluded.children_lo,
		        children_hi = excluded.children_hi`,
		int64(n.Tier), int64(n.Depth), int64(n.Coord),
		int64(n.TotalTasks), int64(n.ExecutedTasks), int64(n.CumulativeDelay),
		int64(n.FeesCollected), int64(n.FeesPaid),
		int64(n.Children.Lo), int64(n.Children.Hi))
	return err
}

// --- Balancer state ---

func (t *sqliteTx) GetBalancerState() (*model.BalancerState, error) {
	var st model.BalancerState
	var small, medium, large, delay, growth int64

	err := t.tx.QueryRowContext(t.ctx,
		`SELECT cursor_small, cursor_medium, cursor_large, target_delay, growth_rate_bps
		 FROM balancer_state WHERE id = 1`).
		Scan(&small, &medium, &large, &delay, &growth)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	st.Cursors = [model.TierCount]model.Slot{
		model.Slot(small), model.Slot(medium), model.Slot(large),
	}
	st.TargetDelay = uint64(delay)
	st.GrowthRateBps = uint64(growth)
	return &st, nil
}

func (t *sqliteTx) PutBalancerState(st *model.BalancerState) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO balancer_state (id, cursor_small, cursor_medium, cursor_large,
		        target_delay, growth_rate_bps)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		        cursor_small = excluded.cursor_small,
		        cursor_medium = excluded.cursor_medium,
		        cursor_large = excluded.cursor_large,
		        target_delay = excluded.target_delay,
		        growth_rate_bps = excluded.growth_rate_bps`,
		int64(st.Cursors[model.TierSmall]), int64(st.Cursors[model.TierMedium]),
		int64(st.Cursors[model.TierLarge]), int64(st.TargetDelay), int64(st.GrowthRateBps))
	return err
}

// --- Environments ---

func (t *sqliteTx) CreateEnvironment(env *model.Environment) error {
	t.logger.Debug("sql", "op", "insert", "table", "environments", "id", env.ID)

	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO environments (id, owner, nonce, program_hash, implementation, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		env.ID, string(env.Owner), int64(env.Nonce), env.ProgramHash,
		env.Implementation, env.Payload, env.CreatedAt.Format(time.RFC3339Nano))
	return err
}

func (t *sqliteTx) GetEnvironment(id string) (*model.Environment, error) {
	var env model.Environment
	var nonce int64
	var createdAt string

	err := t.tx.QueryRowContext(t.ctx,
		`SELECT id, owner, nonce, program_hash, implementation, payload, created_at
		 FROM environments WHERE id = ?`, id).
		Scan(&env.ID, &env.Owner, &nonce, &env.ProgramHash,
			&env.Implementation, &env.Payload, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	env.Nonce = model.Nonce(nonce)
	env.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &env, nil
}

func (t *sqliteTx) DeleteEnvironments(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := inClause(ids)
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM env_cancellers WHERE env_id IN (`+placeholders+`)`, args...); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM environments WHERE id IN (`+placeholders+`)`, args...)
	return err
}

func (t *sqliteTx) OrphanEnvironments(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(ids)
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT e.id FROM environments e
		 WHERE e.id IN (`+placeholders+`)
		   AND NOT EXISTS (SELECT 1 FROM tasks WHERE env_id = e.id)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orphans []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orphans = append(orphans, id)
	}
	return orphans, rows.Err()
}

// --- Canceller ACLs ---

func (t *sqliteTx) AddTaskCanceller(taskID string, addr model.Address) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT OR IGNORE INTO task_cancellers (task_id, canceller) VALUES (?, ?)`,
		taskID, string(addr))
	return err
}

func (t *sqliteTx) RemoveTaskCanceller(taskID string, addr model.Address) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM task_cancellers WHERE task_id = ? AND canceller = ?`,
		taskID, string(addr))
	return err
}

func (t *sqliteTx) IsTaskCanceller(taskID string, addr model.Address) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT 1 FROM task_cancellers WHERE task_id = ? AND canceller = ?`,
		taskID, string(addr)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (t *sqliteTx) ListTaskCancellers(taskID string) ([]model.Address, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT canceller FROM task_cancellers WHERE task_id = ? ORDER BY canceller`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAddresses(rows)
}

func (t *sqliteTx) AddEnvCanceller(envID string, addr model.Address) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT OR IGNORE INTO env_cancellers (env_id, canceller) VALUES (?, ?)`,
		envID, string(addr))
	return err
}

func (t *sqliteTx) RemoveEnvCanceller(envID string, addr model.Address) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM env_cancellers WHERE env_id = ? AND canceller = ?`,
		envID, string(addr))
	return err
}

func (t *sqliteTx) IsEnvCanceller(envID string, addr model.Address) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT 1 FROM env_cancellers WHERE env_id = ? AND canceller = ?`,
		envID, string(addr)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (t *sqliteTx) ListEnvCancellers(envID string) ([]model.Address, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT canceller FROM env_cancellers WHERE env_id = ? ORDER BY canceller`, envID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAddresses(rows)
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func (t *sqliteTx) scanTask(row scanner) (*model.Task, error) {
	var task model.Task
	var nonce, tier, gasLimit, targetSlot, feeCharged, feePaid, reschedules int64
	var bonded, cancelled, executed, consumed int
	var createdAt string
	var executedAt *string

	err := row.Scan(
		&task.ID, &task.Owner, &nonce, &tier, &gasLimit, &task.EnvironmentID, &targetSlot,
		&feeCharged, &feePaid, &bonded, &task.HoldID, &cancelled, &executed, &consumed,
		&createdAt, &executedAt, &task.LastError, &reschedules,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task.Nonce = model.Nonce(nonce)
	task.Tier = model.Tier(tier)
	task.GasLimit = model.Gas(gasLimit)
	task.TargetSlot = model.Slot(targetSlot)
	task.FeeCharged = model.Fee(feeCharged)
	task.FeePaid = model.Fee(feePaid)
	task.Bonded = bonded != 0
	task.Cancelled = cancelled != 0
	task.Executed = executed != 0
	task.Consumed = consumed != 0
	task.Reschedules = int(reschedules)
	task.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if executedAt != nil {
		ts, _ := time.Parse(time.RFC3339Nano, *executedAt)
		task.ExecutedAt = &ts
	}

	return &task, nil
}

func scanAddresses(rows *sql.Rows) ([]model.Address, error) {
	var addrs []model.Address
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, model.Address(a))
	}
	return addrs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}
