package model

// TaskStatus is the presentation view of a task's lifecycle, derived
// from the stored flags rather than persisted itself.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusExecuted  TaskStatus = "EXECUTED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the task can no longer execute.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusExecuted, TaskStatusCancelled:
		return true
	}
	return false
}

// Status derives the lifecycle status from the task flags. Cancellation
// wins over execution; the two can never both be set.
func (t *Task) Status() TaskStatus {
	switch {
	case t.Cancelled:
		return TaskStatusCancelled
	case t.Executed:
		return TaskStatusExecuted
	}
	return TaskStatusPending
}
