// -----------------------------------------------------------------------
// Job Service - lifecycle operations over the single browser session
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/models"
	"github.com/ternarybob/prospector/internal/services/jobstore"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobRunning       = errors.New("job is running")
	ErrAlreadyCurrent   = errors.New("job is already the running job")
	ErrJobCompleted     = errors.New("job has already completed")
	ErrNoCurrentJob     = errors.New("no current job to resume")
	ErrInvalidSourceURL = errors.New("source URL is not a supported search results URL")
)

// CreateRequest is the input for a new job
type CreateRequest struct {
	SourceURL string `json:"sourceUrl" validate:"required,url"`
	ListName  string `json:"listName" validate:"required,max=200"`
}

// Status is the answer to "what is the session doing"
type Status struct {
	Running    bool        `json:"running"`
	Paused     bool        `json:"paused"`
	CurrentJob *models.Job `json:"currentJob"`
}

// ServiceConfig holds the job service settings
type ServiceConfig struct {
	OutputDir         string
	SearchURLPrefixes []string
}

// Service starts, pauses, resumes and deletes jobs. At most one job is running at a time.
type Service struct {
	config    ServiceConfig
	store     *jobstore.Store
	scheduler *Scheduler
	runner    *Runner
	validate  *validator.Validate
	logger    arbor.ILogger
	now       func() time.Time

	mu     sync.Mutex // serializes lifecycle operations
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a job service. Runner loops inherit a context that is cancelled by Shutdown.
func NewService(config ServiceConfig, store *jobstore.Store, scheduler *Scheduler, runner *Runner, logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:    config,
		store:     store,
		scheduler: scheduler,
		runner:    runner,
		validate:  validator.New(),
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Recover pauses every job left running or pausing by a previous process and
// adopts the most recent one as current so it can be resumed.
func (s *Service) Recover(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	recovered := 0
	latest := ""
	for _, job := range s.store.GetAll() {
		if !job.IsActive() {
			continue
		}
		patch := models.StatePatch(models.JobStatePaused, models.ReasonInterrupted, "Interrupted by restart")
		if _, err := s.store.Update(ctx, job.ID, patch); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist recovered job")
		}
		recovered++
		if latest == "" || createdMillis(job.ID) > createdMillis(latest) {
			latest = job.ID
		}
	}
	if latest != "" {
		s.scheduler.Adopt(latest)
	}
	if recovered > 0 {
		s.logger.Info().Int("jobs", recovered).Str("current", latest).Msg("Paused jobs interrupted by restart")
	}
	return recovered
}

// CreateJob validates the request, preempts the running job and starts a new one on page 1
func (s *Service) CreateJob(ctx context.Context, req CreateRequest) (*models.Job, error) {
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	req.ListName = strings.TrimSpace(req.ListName)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if !s.acceptsSource(req.SourceURL) {
		return nil, ErrInvalidSourceURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := models.NewJob(req.SourceURL, req.ListName, s.config.OutputDir, s.now())
	if _, exists := s.store.Get(job.ID); exists {
		return nil, fmt.Errorf("job %s already exists", job.ID)
	}
	job.Message = "Starting"

	s.preemptLocked(ctx, job.ID)
	s.startLocked(job.ID, func() {
		if err := s.store.Put(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist new job")
		}
	})

	s.logger.Info().Str("job_id", job.ID).Str("list", job.ListName).Msg("Job created")
	return job.Clone(), nil
}

// RunJob resumes jobID from its stored cursor, preempting whatever is running
func (s *Service) RunJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.store.Get(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}
	status := s.scheduler.Status()
	if status.CurrentJobID == jobID && status.Running {
		return nil, ErrAlreadyCurrent
	}
	if job.State == models.JobStateRunning {
		return nil, ErrJobRunning
	}
	if job.State == models.JobStateCompleted {
		return nil, ErrJobCompleted
	}

	s.preemptLocked(ctx, jobID)
	s.startLocked(jobID, func() {
		patch := models.StatePatch(models.JobStateRunning, "", fmt.Sprintf("Resuming on page %d", job.PageIndex))
		if _, err := s.store.Update(ctx, jobID, patch); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist resumed job")
		}
	})

	s.logger.Info().Str("job_id", jobID).Int("page_index", job.PageIndex).Msg("Job resumed")
	current, _ := s.store.Get(jobID)
	return current, nil
}

// ResumeCurrent resumes the current job
func (s *Service) ResumeCurrent(ctx context.Context) (*models.Job, error) {
	current := s.scheduler.Status().CurrentJobID
	if current == "" {
		return nil, ErrNoCurrentJob
	}
	return s.RunJob(ctx, current)
}

// RequestPause asks the loop running jobID ("" means the current job) to halt at its next checkpoint.
// A job with no live loop is settled to paused directly.
func (s *Service) RequestPause(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jobID == "" {
		jobID = s.scheduler.Status().CurrentJobID
		if jobID == "" {
			return nil, ErrNoCurrentJob
		}
	}
	job, ok := s.store.Get(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}

	signalled := s.scheduler.RequestPause(jobID, func() {
		if current, ok := s.store.Get(jobID); ok && current.State == models.JobStateRunning {
			patch := models.StatePatch(models.JobStatePausing, "", "Pause requested")
			if _, err := s.store.Update(ctx, jobID, patch); err != nil {
				s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist pause request")
			}
		}
	})
	if !signalled && job.IsActive() {
		patch := models.StatePatch(models.JobStatePaused, "", "Paused")
		if _, err := s.store.Update(ctx, jobID, patch); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist paused job")
		}
	}

	s.logger.Info().Str("job_id", jobID).Bool("signalled", signalled).Msg("Pause requested")
	current, _ := s.store.Get(jobID)
	return current, nil
}

// DeleteJob removes a job record. Its CSV output is left in place.
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.store.Get(jobID)
	if !ok {
		return ErrJobNotFound
	}
	if s.scheduler.IsActive(jobID) || job.State == models.JobStateRunning {
		return ErrJobRunning
	}
	if err := s.store.Delete(ctx, jobID); err != nil {
		return err
	}
	s.scheduler.Forget(jobID)
	s.logger.Info().Str("job_id", jobID).Msg("Job deleted")
	return nil
}

// GetJob returns one job
func (s *Service) GetJob(jobID string) (*models.Job, error) {
	job, ok := s.store.Get(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns every job sorted by id
func (s *Service) ListJobs() []*models.Job {
	return s.store.GetAll()
}

// GetStatus reports the current job and whether it is running
func (s *Service) GetStatus() Status {
	status := s.scheduler.Status()
	result := Status{Running: status.Running}
	if status.CurrentJobID != "" {
		if job, ok := s.store.Get(status.CurrentJobID); ok {
			result.CurrentJob = job
			result.Paused = !status.Running && job.State != models.JobStateCompleted
		}
	}
	return result
}

// CurrentJobID returns the id the scheduler treats as current
func (s *Service) CurrentJobID() string {
	return s.scheduler.Status().CurrentJobID
}

// Wait blocks until every runner loop has exited
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown asks the running job to pause and waits for it. When ctx expires
// first, the loop is cancelled and records an interrupted pause.
func (s *Service) Shutdown(ctx context.Context) error {
	if run := s.scheduler.ActiveRun(); run != nil {
		if _, err := s.RequestPause(ctx, run.JobID); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to request pause on shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// createdMillis reads the creation timestamp suffix of a job id; 0 when absent
func createdMillis(id string) int64 {
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return 0
	}
	millis, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return millis
}

func (s *Service) acceptsSource(sourceURL string) bool {
	if len(s.config.SearchURLPrefixes) == 0 {
		return true
	}
	lower := strings.ToLower(sourceURL)
	for _, prefix := range s.config.SearchURLPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// preemptLocked marks the current job paused before another one takes the session
func (s *Service) preemptLocked(ctx context.Context, nextID string) {
	currentID := s.scheduler.Status().CurrentJobID
	if currentID == "" || currentID == nextID {
		return
	}
	job, ok := s.store.Get(currentID)
	if !ok || !job.IsActive() {
		return
	}
	patch := models.StatePatch(models.JobStatePaused, "", fmt.Sprintf("Preempted by %s", nextID))
	if _, err := s.store.Update(ctx, currentID, patch); err != nil {
		s.logger.Warn().Err(err).Str("job_id", currentID).Msg("Failed to persist preempted job")
	}
	s.logger.Info().Str("job_id", currentID).Str("next_job_id", nextID).Msg("Job preempted")
}

// startLocked activates jobID, runs mark under the scheduler lock and starts the loop
// once the previous loop has released the session.
func (s *Service) startLocked(jobID string, mark func()) {
	run, prev := s.scheduler.Activate(jobID, mark)

	s.wg.Add(1)
	common.SafeGo(s.logger, "jobRunner:"+jobID, func() {
		defer s.wg.Done()
		defer s.scheduler.Finish(run)

		if prev != nil {
			select {
			case <-prev.Done():
			case <-s.ctx.Done():
			}
		}
		s.runner.Run(s.ctx, run)
	})
}
