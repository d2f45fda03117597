package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/me/slotq/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

// respondCreated writes a 201 response with the standard envelope.
func respondCreated(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusCreated, reqID, data, nil, nil)
}

// respondList writes a success response with pagination.
func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	respondJSON(w, http.StatusOK, reqID, data, pg, nil)
}

// respondError writes an error response, deriving the HTTP status from
// the engine error code.
func respondError(w http.ResponseWriter, reqID string, err error) {
	var ee *model.EngineError
	if !errors.As(err, &ee) {
		ee = &model.EngineError{Code: model.ErrInternal, Message: err.Error()}
	}
	respondJSON(w, statusFor(ee.Code), reqID, nil, nil, ee)
}

// respondErrorCode writes an error response for a code built at the
// call site, outside any engine operation.
func respondErrorCode(w http.ResponseWriter, reqID string, code model.ErrorCode, message string) {
	respondJSON(w, statusFor(code), reqID, nil, nil, &model.EngineError{Code: code, Message: message})
}

// statusFor maps engine error codes onto HTTP status codes.
func statusFor(code model.ErrorCode) int {
	switch code {
	case model.ErrValidation, model.ErrTargetInPast, model.ErrTargetTooFar,
		model.ErrTaskGasTooLarge, model.ErrCostAboveMax, model.ErrLookaheadTooFar,
		model.ErrZeroPayoutTarget:
		return http.StatusBadRequest
	case model.ErrInsufficientBond:
		return http.StatusPaymentRequired
	case model.ErrUnauthorized:
		return http.StatusUnauthorized
	case model.ErrNotAuthorized:
		return http.StatusForbidden
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrTaskNotActive, model.ErrReentrancy,
		model.ErrAlreadyRescheduled, model.ErrMustRescheduleSelf:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Pagination, apiErr *model.EngineError) {
	resp := model.Response{
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
		Error:      apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
