package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/slotq/pkg/model"
)

func (s *Server) handleListEnvCancellers(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	cancellers, err := s.engine.ListEnvironmentCancellers(r.Context(), id)
	if err != nil {
		respondError(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"environment_id": id, "cancellers": cancellers})
}

func (s *Server) handleAddEnvCanceller(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	caller := CallerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req struct {
		Address model.Address `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, reqID, model.ErrValidation, "invalid JSON body: "+err.Error())
		return
	}

	if err := s.engine.AddEnvironmentCanceller(r.Context(), caller, id, req.Address); err != nil {
		respondError(w, reqID, err)
		return
	}
	respondCreated(w, reqID, map[string]any{"environment_id": id, "canceller": req.Address})
}

func (s *Server) handleRemoveEnvCanceller(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	caller := CallerFromContext(r.Context())
	id := chi.URLParam(r, "id")
	addr := model.Address(chi.URLParam(r, "address"))

	if err := s.engine.RemoveEnvironmentCanceller(r.Context(), caller, id, addr); err != nil {
		respondError(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"environment_id": id, "removed": addr})
}
