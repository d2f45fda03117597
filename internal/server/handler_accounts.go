package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/slotq/pkg/model"
)

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	caller := CallerFromContext(r.Context())

	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, reqID, model.ErrValidation, "invalid JSON body: "+err.Error())
		return
	}

	if err := s.engine.Deposit(r.Context(), caller, model.Fee(req.Amount)); err != nil {
		respondError(w, reqID, err)
		return
	}

	bal, err := s.engine.Balance(r.Context(), caller)
	if err != nil {
		respondError(w, reqID, err)
		return
	}
	s.logger.Info("deposit", "account", caller, "amount", req.Amount, "request_id", reqID)
	respondOK(w, reqID, bal)
}

func (s *Server) handleOwnBalance(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	caller := CallerFromContext(r.Context())

	bal, err := s.engine.Balance(r.Context(), caller)
	if err != nil {
		respondError(w, reqID, err)
		return
	}
	respondOK(w, reqID, bal)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	addr := model.Address(chi.URLParam(r, "address"))

	bal, err := s.engine.Balance(r.Context(), addr)
	if err != nil {
		respondError(w, reqID, err)
		return
	}
	respondOK(w, reqID, bal)
}
