package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string       `json:"status"`
	RequestID  string       `json:"request_id"`
	Timestamp  time.Time    `json:"timestamp"`
	Data       any          `json:"data"`
	Pagination *Pagination  `json:"pagination,omitempty"`
	Error      *EngineError `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures list queries with pagination and filtering.
type ListOptions struct {
	Limit  int
	Offset int
	Owner  Address // Optional owner filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// ScheduleResult reports a successfully scheduled task.
type ScheduleResult struct {
	TaskID        string `json:"task_id"`
	Nonce         Nonce  `json:"nonce"`
	EnvironmentID string `json:"environment_id"`
	Tier          Tier   `json:"tier"`
	TargetSlot    Slot   `json:"target_slot"`
	Fee           Fee    `json:"fee"`
}

// EstimateResult reports a fee quote without scheduling anything.
type EstimateResult struct {
	Tier       Tier `json:"tier"`
	TargetSlot Slot `json:"target_slot"`
	Fee        Fee  `json:"fee"`
}

// ExecutedTask describes one task consumed during an execution pass.
type ExecutedTask struct {
	TaskID        string        `json:"task_id"`
	Tier          Tier          `json:"tier"`
	Slot          Slot          `json:"slot"`
	OK            bool          `json:"ok"`
	Rescheduled   bool          `json:"rescheduled"`
	Error         string        `json:"error,omitempty"`
	FeeCollected  Fee           `json:"fee_collected"`
	ExecutorShare Fee           `json:"executor_share"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// ExecuteResult reports the outcome of an execution pass.
type ExecuteResult struct {
	FeesEarned  Fee            `json:"fees_earned"`
	BudgetSpent Gas            `json:"budget_spent"`
	CurrentSlot Slot           `json:"current_slot"`
	Executed    []ExecutedTask `json:"executed"`
}

// SlotSchedule is one row of a schedule preview: pending task counts
// and current quotes per tier for a single slot. Arrays are indexed
// small, medium, large.
type SlotSchedule struct {
	Slot    Slot              `json:"slot"`
	Pending [TierCount]uint64 `json:"pending"`
	Quotes  [TierCount]Fee    `json:"quotes"`
}

// BalanceResult reports an account's ledger position.
type BalanceResult struct {
	Address   Address `json:"address"`
	Bonded    Fee     `json:"bonded"`
	Held      Fee     `json:"held"`
	Available Fee     `json:"available"`
}
