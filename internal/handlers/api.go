package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
)

// APIHandler serves the system endpoints
type APIHandler struct {
	status StatusSource
	logger arbor.ILogger
}

// NewAPIHandler creates the system endpoint handler; status feeds the health report
func NewAPIHandler(status StatusSource, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		status: status,
		logger: logger,
	}
}

// VersionHandler returns version information
// GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler reports liveness plus whether the runner currently owns the browser
// GET /api/health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	body := map[string]interface{}{"status": "ok"}
	if h.status != nil {
		status := h.status.GetStatus()
		body["running"] = status.Running
		if status.CurrentJob != nil {
			body["current_job"] = status.CurrentJob.ID
		}
	}
	WriteJSON(w, http.StatusOK, body)
}

// NotFoundHandler answers unmatched routes with a JSON 404
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "No such endpoint: "+r.URL.Path)
}
