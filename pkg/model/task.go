package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Size limits for environment programs and payloads.
const (
	MaxProgramBytes = 64 * 1024
	MaxPayloadBytes = 64 * 1024
)

// Task is a deferred unit of work queued for a target slot.
type Task struct {
	ID            string  `json:"id"`
	Owner         Address `json:"owner"`
	Nonce         Nonce   `json:"nonce"`
	Tier          Tier    `json:"tier"`
	GasLimit      Gas     `json:"gas_limit"`
	EnvironmentID string  `json:"environment_id"`
	TargetSlot    Slot    `json:"target_slot"`

	// FeeCharged is the fee locked for the current target slot. It is
	// replaced on reschedule; FeePaid accumulates across attempts.
	FeeCharged Fee `json:"fee_charged"`
	FeePaid    Fee `json:"fee_paid"`

	// Bonded tasks fund fees from a ledger hold instead of an up-front
	// escrow transfer. HoldID names the active hold.
	Bonded bool   `json:"bonded"`
	HoldID string `json:"hold_id,omitempty"`

	Cancelled bool `json:"cancelled"`
	Executed  bool `json:"executed"`

	// Consumed is set once the task's queue entry has been drained,
	// either by execution or by the iterator skipping a cancelled entry.
	Consumed bool `json:"consumed"`

	// Reschedules counts sanctioned mid-execution reschedules.
	Reschedules int `json:"reschedules"`

	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// Active reports whether the task can still be executed or cancelled.
func (t *Task) Active() bool {
	return !t.Cancelled && !t.Executed
}

// Metadata returns the compact scheduling view of the task.
func (t *Task) Metadata() TaskMetadata {
	return TaskMetadata{
		Owner:  t.Owner,
		Nonce:  t.Nonce,
		Tier:   t.Tier,
		Active: t.Active(),
	}
}

// TaskMetadata is the packed per-task descriptor exposed by lookups.
type TaskMetadata struct {
	Owner  Address `json:"owner"`
	Nonce  Nonce   `json:"nonce"`
	Tier   Tier    `json:"tier"`
	Active bool    `json:"active"`
}

// TaskID derives the deterministic task identifier from the owner and
// the owner-scoped nonce assigned at schedule time.
func TaskID(owner Address, nonce Nonce) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "task|%s|%d", owner, nonce))
	return "t_" + hex.EncodeToString(sum[:])[:40]
}

// Environment is the content-addressed execution context of a task:
// the program to run and the payload it receives.
type Environment struct {
	ID             string    `json:"id"`
	Owner          Address   `json:"owner"`
	Nonce          Nonce     `json:"nonce"`
	ProgramHash    string    `json:"program_hash"`
	Implementation string    `json:"implementation"`
	Payload        []byte    `json:"payload,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProgramHash hashes an environment implementation source.
func ProgramHash(implementation string) string {
	sum := sha256.Sum256([]byte(implementation))
	return hex.EncodeToString(sum[:])
}

// EnvironmentID derives the content address of an environment from its
// owner, creation nonce, program hash and payload. Identical inputs
// always map to the same environment, so the identifier is computable
// before the environment exists.
func EnvironmentID(owner Address, nonce Nonce, programHash string, payload []byte) string {
	payloadSum := sha256.Sum256(payload)
	sum := sha256.Sum256(fmt.Appendf(nil, "env|%s|%d|%s|%x", owner, nonce, programHash, payloadSum))
	return "env_" + hex.EncodeToString(sum[:])[:40]
}
