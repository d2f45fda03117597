package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "slotq API",
		Version:     "v1",
		Description: "slotq deferred execution engine: slot-addressed task scheduling, congestion pricing, and metered execution",
		Endpoints: []endpointInfo{
			{"/api/v1/tasks", []string{"GET", "POST"}, "Task management. POST schedules a task; accepts ?bonded=true to fund from held bond"},
			{"/api/v1/tasks/reschedule", []string{"POST"}, "Retarget the task currently executing; only its own environment may call this"},
			{"/api/v1/tasks/{id}", []string{"GET", "DELETE"}, "Single task detail and cancellation"},
			{"/api/v1/tasks/{id}/metadata", []string{"GET"}, "Scheduling metadata for a task (escrow, nonce, reschedules)"},
			{"/api/v1/tasks/{id}/cancellers", []string{"GET", "POST"}, "Per-task cancellation grants"},
			{"/api/v1/tasks/{id}/cancellers/{address}", []string{"DELETE"}, "Revoke a per-task cancellation grant"},
			{"/api/v1/environments/{id}/cancellers", []string{"GET", "POST"}, "Per-environment cancellation grants"},
			{"/api/v1/environments/{id}/cancellers/{address}", []string{"DELETE"}, "Revoke a per-environment cancellation grant"},
			{"/api/v1/estimate", []string{"POST"}, "Quote the fee for a gas limit and target slot without scheduling"},
			{"/api/v1/schedule", []string{"GET"}, "Preview pending load and quotes for upcoming slots (?lookahead=N)"},
			{"/api/v1/execute", []string{"POST"}, "Run an execution pass over due tasks within a gas budget"},
			{"/api/v1/accounts/deposit", []string{"POST"}, "Deposit bond for the calling account"},
			{"/api/v1/accounts/balance", []string{"GET"}, "Bond balance of the calling account"},
			{"/api/v1/accounts/{address}/balance", []string{"GET"}, "Bond balance of any account"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
