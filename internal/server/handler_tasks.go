package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/slotq/pkg/model"
)

type scheduleRequest struct {
	Implementation string          `json:"implementation"`
	GasLimit       uint64          `json:"gas_limit"`
	TargetSlot     uint64          `json:"target_slot"`
	MaxFee         uint64          `json:"max_fee"`
	Payload        json.RawMessage `json:"payload"`
}

func (s *Server) handleScheduleTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	caller := CallerFromContext(r.Context())

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, reqID, model.ErrValidation, "invalid JSON body: "+err.Error())
		return
	}

	schedule := s.engine.ScheduleTask
	if r.URL.Query().Get("bonded") == "true" {
		schedule = s.engine.ScheduleWithBond
	}

	res, err := schedule(r.Context(), caller, req.Implementation,
		model.Gas(req.GasLimit), model.Slot(req.TargetSlot), model.Fee(req.MaxFee), req.Payload)
	if err != nil {
		respondError(w, reqID, err)
		return
	}

	s.logger.Info("task scheduled",
		"task_id", res.TaskID, "owner", caller, "tier", res.Tier,
		"target_slot", res.TargetSlot, "fee", res.Fee, "request_id", reqID)
	respondCreated(w, reqID, res)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts := model.DefaultListOptions()
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}
	opts.Owner = model.Address(r.URL.Query().Get("owner"))
	opts.Clamp()

	tasks, total, err := s.engine.ListTasks(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, err)
		return
	}

	respondList(w, reqID, tasks, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	task, err := s.engine.GetTask(r.Context(), id)
	if err != nil {
		respondError(w, reqID, err)
		return
	}
	respondOK(w, reqID, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	caller := CallerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.engine.Cancel(r.Context(), caller, id); err != nil {
		respondError(w, reqID, err)
		return
	}

	s.logger.Info("task cancelled", "task_id", id, "caller", caller, "request_id", reqID)

	// Re-read so the response carries the refunded, cancelled state.
	task, err := s.engine.GetTask(r.Context(), id)
	if err != nil {
		respondOK(w, reqID, map[string]any{"id": id, "status": model.TaskStatusCancelled})
		return
	}
	respondOK(w, reqID, task)
}

// handleReschedule forwards a reschedule request to the engine. The
// operation only succeeds for the environment whose task is currently
// executing, so callers arriving over HTTP are rejected with
// MUST_RESCHEDULE_SELF; the route exists so the full entrypoint
// surface is reachable and the rejection is observable.
func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		NewSlot uint64 `json:"new_slot"`
		MaxFee  uint64 `json:"max_fee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, reqID, model.ErrValidation, "invalid JSON body: "+err.Error())
		return
	}

	if err := s.engine.Reschedule(r.Context(), model.Slot(req.NewSlot), model.Fee(req.MaxFee)); err != nil {
		respondError(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"rescheduled": true, "new_slot": req.NewSlot})
}

func (s *Server) handleTaskMetadata(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	meta, err := s.engine.TaskMetadata(r.Context(), id)
	if err != nil {
		respondError(w, reqID, err)
		return
	}
	respondOK(w, reqID, meta)
}

func (s *Server) handleListTaskCancellers(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	cancellers, err := s.engine.ListTaskCancellers(r.Context(), id)
	if err != nil {
		respondError(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"task_id": id, "cancellers": cancellers})
}

func (s *Server) handleAddTaskCanceller(w http.ResponseWriter, r *http.Request) {
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

	if err := s.engine.AddTaskCanceller(r.Context(), caller, id, req.Address); err != nil {
		respondError(w, reqID, err)
		return
	}
	respondCreated(w, reqID, map[string]any{"task_id": id, "canceller": req.Address})
}

func (s *Server) handleRemoveTaskCanceller(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	caller := CallerFromContext(r.Context())
	id := chi.URLParam(r, "id")
	addr := model.Address(chi.URLParam(r, "address"))

	if err := s.engine.RemoveTaskCanceller(r.Context(), caller, id, addr); err != nil {
		respondError(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"task_id": id, "removed": addr})
}
