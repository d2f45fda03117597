package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	GoVersion    string `json:"go_version"`
	Uptime       string `json:"uptime"`
	CurrentSlot  uint64 `json:"current_slot"`
	TasksTotal   int    `json:"tasks_total"`
	TasksPending int    `json:"tasks_pending"`
	Archive      string `json:"archive"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	status := "healthy"
	total, pending, err := s.engine.TaskCounts(r.Context())
	if err != nil {
		s.logger.Error("health task counts", "error", err, "request_id", reqID)
		status = "degraded"
	}

	respondOK(w, reqID, healthResponse{
		Status:       status,
		Version:      s.version,
		GoVersion:    runtime.Version(),
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		CurrentSlot:  uint64(s.engine.CurrentSlot()),
		TasksTotal:   total,
		TasksPending: pending,
		Archive:      s.archiveStatus(),
	})
}
