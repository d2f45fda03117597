package store

import (
	"context"
	"time"

	"github.com/me/slotq/pkg/model"
)

// Store is the persistence layer for the scheduling engine. Every
// engine operation runs inside a single transaction so that queue
// entries, tracker statistics and task rows move together.
type Store interface {
	// Begin opens a transaction. Read-only operations use transactions
	// too; SQLite snapshots keep their view consistent.
	Begin(ctx context.Context) (Tx, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Tx is one engine transaction over the task, queue, tracker and
// environment tables. Rollback after Commit is a no-op.
type Tx interface {
	Commit() error
	Rollback() error

	// Task rows
	CreateTask(task *model.Task) error
	GetTask(id string) (*model.Task, error)
	GetTaskByNonce(owner model.Address, nonce model.Nonce) (*model.Task, error)
	ListTasks(opts model.ListOptions) ([]*model.Task, int, error)
	MarkCancelled(id string) error
	MarkConsumed(id string) error
	MarkExecuted(id string, at time.Time, feePaid model.Fee, lastError string) error
	RecordAttempt(id string, feePaid model.Fee, lastError string) error
	RetargetTask(id string, slot model.Slot, fee model.Fee, holdID string) error
	SweepCandidates(before model.Slot, limit int) ([]*model.Task, error)
	DeleteTasks(ids []string) error
	CountTasks() (total, pending int, err error)

	// Nonces
	NextNonce(owner model.Address) (model.Nonce, error)

	// Queue entries
	AppendQueueEntry(tier model.Tier, slot model.Slot, idx uint64, taskID string) error
	QueueEntryTask(tier model.Tier, slot model.Slot, idx uint64) (string, error)
	DeleteQueueEntries(taskIDs []string) error

	// Statistics trackers
	GetTracker(tier model.Tier, depth model.Depth, coord uint64) (*model.Tracker, error)
	PutTracker(n *model.Tracker) error

	// Balancer state
	GetBalancerState() (*model.BalancerState, error)
	PutBalancerState(st *model.BalancerState) error

	// Environments
	CreateEnvironment(env *model.Environment) error
	GetEnvironment(id string) (*model.Environment, error)
	DeleteEnvironments(ids []string) error
	OrphanEnvironments(ids []string) ([]string, error)

	// Canceller ACLs
	AddTaskCanceller(taskID string, addr model.Address) error
	RemoveTaskCanceller(taskID string, addr model.Address) error
	IsTaskCanceller(taskID string, addr model.Address) (bool, error)
	ListTaskCancellers(taskID string) ([]model.Address, error)
	AddEnvCanceller(envID string, addr model.Address) error
	RemoveEnvCanceller(envID string, addr model.Address) error
	IsEnvCanceller(envID string, addr model.Address) (bool, error)
	ListEnvCancellers(envID string) ([]model.Address, error)
}
