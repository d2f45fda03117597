package server

import (
	"encoding/json"
	"net/http"

	"github.com/me/slotq/pkg/model"
)

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	caller := CallerFromContext(r.Context())

	var req struct {
		Payout   model.Address `json:"payout"`
		Budget   uint64        `json:"budget"`
		Reserved uint64        `json:"reserved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, reqID, model.ErrValidation, "invalid JSON body: "+err.Error())
		return
	}
	if req.Budget == 0 {
		respondErrorCode(w, reqID, model.ErrValidation, "budget must be greater than zero")
		return
	}
	// Executor fees default to the caller unless redirected.
	payout := req.Payout
	if payout == model.ZeroAddress {
		payout = caller
	}

	res, err := s.engine.ExecuteTasks(r.Context(), payout, model.Gas(req.Budget), model.Gas(req.Reserved))
	if err != nil {
		respondError(w, reqID, err)
		return
	}

	s.logger.Info("execution pass",
		"executed", len(res.Executed), "fees", res.FeesEarned,
		"budget_spent", res.BudgetSpent, "payout", payout, "request_id", reqID)
	respondOK(w, reqID, res)
}
