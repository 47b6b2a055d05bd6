package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	h := s.handlers

	// WebSocket route
	mux.HandleFunc("/ws", h.WS.HandleWebSocket)

	// API routes - Authentication (cookie capture extension)
	mux.HandleFunc("/api/auth", h.Auth.CaptureAuthHandler)       // POST - capture cookies
	mux.HandleFunc("/api/auth/status", h.Auth.AuthStatusHandler) // GET ?domain=

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)                  // GET (list), POST (create)
	mux.HandleFunc("/api/jobs/pause", h.Jobs.PauseCurrentHandler)   // POST - pause current job
	mux.HandleFunc("/api/jobs/resume", h.Jobs.ResumeCurrentHandler) // POST - resume current job
	mux.HandleFunc("/api/jobs/", h.Jobs.JobRoutes)                  // GET/DELETE /{id}, POST /{id}/run, /{id}/stop
	mux.HandleFunc("/api/status", h.Jobs.StatusHandler)             // GET

	// API routes - System
	mux.HandleFunc("/api/version", h.API.VersionHandler)
	mux.HandleFunc("/api/health", h.API.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/", h.API.NotFoundHandler)

	return mux
}

// handleJobsRoute routes GET (list) and POST (create) on the jobs collection
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.handlers.Jobs.ListJobsHandler, s.handlers.Jobs.CreateJobHandler)
}
