package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/me/slotq/pkg/model"
)

// defaultLookahead bounds the schedule preview when the client does not
// ask for a specific horizon.
const defaultLookahead = 16

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		GasLimit   uint64 `json:"gas_limit"`
		TargetSlot uint64 `json:"target_slot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, reqID, model.ErrValidation, "invalid JSON body: "+err.Error())
		return
	}

	est, err := s.engine.EstimateCost(r.Context(), model.Gas(req.GasLimit), model.Slot(req.TargetSlot))
	if err != nil {
		respondError(w, reqID, err)
		return
	}
	respondOK(w, reqID, est)
}

func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	lookahead := uint64(defaultLookahead)
	if v := r.URL.Query().Get("lookahead"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondErrorCode(w, reqID, model.ErrValidation, "lookahead must be a positive integer")
			return
		}
		lookahead = n
	}

	slots, err := s.engine.ScheduleInRange(r.Context(), lookahead)
	if err != nil {
		respondError(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{
		"current_slot": s.engine.CurrentSlot(),
		"lookahead":    lookahead,
		"slots":        slots,
	})
}
