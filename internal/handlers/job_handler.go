package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/models"
	"github.com/ternarybob/prospector/internal/services/jobs"
)

// JobService is the job lifecycle surface the HTTP layer drives
type JobService interface {
	CreateJob(ctx context.Context, req jobs.CreateRequest) (*models.Job, error)
	RunJob(ctx context.Context, jobID string) (*models.Job, error)
	ResumeCurrent(ctx context.Context) (*models.Job, error)
	RequestPause(ctx context.Context, jobID string) (*models.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	GetJob(jobID string) (*models.Job, error)
	ListJobs() []*models.Job
	GetStatus() jobs.Status
}

// JobHandler handles job-related API requests
type JobHandler struct {
	service JobService
	logger  arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(service JobService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		service: service,
		logger:  logger,
	}
}

// ListJobsHandler returns every job sorted by id
// GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": h.service.ListJobs(),
	})
}

// CreateJobHandler creates a job and starts it, preempting the running one
// POST /api/jobs {"sourceUrl": "...", "listName": "..."}
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req jobs.CreateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.service.CreateJob(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create job")
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// StatusHandler reports the current job and whether it is running
// GET /api/status
func (h *JobHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.service.GetStatus())
}

// PauseCurrentHandler asks the current job to pause
// POST /api/jobs/pause
func (h *JobHandler) PauseCurrentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	job, err := h.service.RequestPause(r.Context(), "")
	if err != nil {
		h.writeServiceError(w, err, "Failed to pause job")
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

// ResumeCurrentHandler resumes the current job from its stored cursor
// POST /api/jobs/resume
func (h *JobHandler) ResumeCurrentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	job, err := h.service.ResumeCurrent(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Failed to resume job")
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

// JobRoutes handles /api/jobs/{id}, /api/jobs/{id}/run and /api/jobs/{id}/stop
func (h *JobHandler) JobRoutes(w http.ResponseWriter, r *http.Request) {
	segments := PathSegments(r, "/api/jobs/")
	if len(segments) == 0 || segments[0] == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}
	jobID := segments[0]

	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.getJob(w, jobID)
		case http.MethodDelete:
			h.deleteJob(w, r, jobID)
		default:
			WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	if len(segments) != 2 {
		WriteError(w, http.StatusNotFound, "Unknown job route")
		return
	}
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var (
		job *models.Job
		err error
	)
	switch segments[1] {
	case "run":
		job, err = h.service.RunJob(r.Context(), jobID)
	case "stop":
		job, err = h.service.RequestPause(r.Context(), jobID)
	default:
		WriteError(w, http.StatusNotFound, "Unknown job route")
		return
	}
	if err != nil {
		h.writeServiceError(w, err, "Job operation failed")
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

func (h *JobHandler) getJob(w http.ResponseWriter, jobID string) {
	job, err := h.service.GetJob(jobID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to get job")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *JobHandler) deleteJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err, "Failed to delete job")
		return
	}
	WriteSuccess(w, "Job deleted")
}

// writeServiceError maps job service errors onto HTTP status codes
func (h *JobHandler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	if message, ok := ValidationMessage(err); ok {
		WriteError(w, http.StatusBadRequest, message)
		return
	}

	switch {
	case errors.Is(err, jobs.ErrInvalidSourceURL):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, jobs.ErrNoCurrentJob):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrJobRunning), errors.Is(err, jobs.ErrAlreadyCurrent), errors.Is(err, jobs.ErrJobCompleted):
		WriteError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg(fallback)
		WriteError(w, http.StatusInternalServerError, fallback)
	}
}
