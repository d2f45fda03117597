package model

import (
	"errors"
	"fmt"
)

// ErrorCode represents a structured engine error code.
type ErrorCode string

const (
	// Scheduling validation failures.
	ErrTargetInPast     ErrorCode = "TARGET_IN_PAST"
	ErrTargetTooFar     ErrorCode = "TARGET_TOO_FAR"
	ErrTaskGasTooLarge  ErrorCode = "TASK_GAS_TOO_LARGE"
	ErrCostAboveMax     ErrorCode = "COST_ABOVE_MAX"
	ErrInsufficientBond ErrorCode = "INSUFFICIENT_BOND"
	ErrLookaheadTooFar  ErrorCode = "LOOKAHEAD_EXCEEDS_MAX"
	ErrZeroPayoutTarget ErrorCode = "ZERO_PAYOUT_TARGET"

	// Execution-state failures.
	ErrReentrancy         ErrorCode = "REENTRANCY"
	ErrMustRescheduleSelf ErrorCode = "MUST_RESCHEDULE_SELF"
	ErrAlreadyRescheduled ErrorCode = "ALREADY_RESCHEDULED"

	// Authorization and lifecycle failures.
	ErrNotAuthorized ErrorCode = "NOT_AUTHORIZED"
	ErrTaskNotActive ErrorCode = "TASK_NOT_ACTIVE"

	// Generic failures shared with the API surface.
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// EngineError is a structured error carrying an engine error code.
type EngineError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf creates an EngineError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError creates a VALIDATION_ERROR.
func NewValidationError(msg string) *EngineError {
	return &EngineError{Code: ErrValidation, Message: msg}
}

// NewNotFoundError creates a NOT_FOUND error for a resource.
func NewNotFoundError(resource, id string) *EngineError {
	return &EngineError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// CodeOf extracts the engine error code from err, or ErrInternal when
// err carries no code.
func CodeOf(err error) ErrorCode {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ErrInternal
}

// IsCode reports whether err carries the given engine error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
