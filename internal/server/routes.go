package server

import (
	"encoding/json"
	"net/http"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /tasks", s.handleCreateTask)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /tasks/{id}/segments", s.handleListSegments)
	mux.HandleFunc("PUT /tasks/{id}/segments/{order}/edit", s.handleEditSegment)
	mux.HandleFunc("GET /tasks/{id}/document", s.handleGetDocument)
}

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	ActiveFlows int    `json:"active_flows"`
}

// handleHealth returns basic server health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.services.Scheduler != nil {
		resp.ActiveFlows = s.services.Scheduler.ActiveFlows()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
