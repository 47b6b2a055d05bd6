package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/models"
)

// JobUpdateAggregator coalesces job snapshots so a busy runner does not flood clients.
// Only the latest snapshot per job is kept. Triggers occur:
// - Every timeThreshold for jobs with a pending snapshot
// - Immediately when a job settles (paused or completed)
type JobUpdateAggregator struct {
	mu            sync.Mutex
	timeThreshold time.Duration
	pending       map[string]*models.Job

	onTrigger func(ctx context.Context, jobs []*models.Job)

	logger arbor.ILogger
}

// NewJobUpdateAggregator creates an aggregator with time-based triggering
func NewJobUpdateAggregator(
	timeThreshold time.Duration,
	onTrigger func(ctx context.Context, jobs []*models.Job),
	logger arbor.ILogger,
) *JobUpdateAggregator {
	if timeThreshold <= 0 {
		timeThreshold = time.Second
	}
	return &JobUpdateAggregator{
		timeThreshold: timeThreshold,
		pending:       make(map[string]*models.Job),
		onTrigger:     onTrigger,
		logger:        logger,
	}
}

// Record queues a snapshot, replacing any pending one for the same job.
// A settled job is pushed at once.
func (a *JobUpdateAggregator) Record(ctx context.Context, job *models.Job) {
	if job == nil || job.ID == "" {
		return
	}

	if job.State == models.JobStatePaused || job.State == models.JobStateCompleted {
		a.mu.Lock()
		delete(a.pending, job.ID)
		a.mu.Unlock()
		a.safeOnTrigger(ctx, []*models.Job{job.Clone()})
		return
	}

	a.mu.Lock()
	a.pending[job.ID] = job.Clone()
	a.mu.Unlock()
}

// Forget drops a pending snapshot, e.g. after the job was deleted
func (a *JobUpdateAggregator) Forget(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, jobID)
}

// FlushAll pushes every pending snapshot
func (a *JobUpdateAggregator) FlushAll(ctx context.Context) {
	jobs := a.drain()
	if len(jobs) > 0 {
		a.logger.Debug().Int("job_count", len(jobs)).Msg("Job update aggregator: flush")
		a.safeOnTrigger(ctx, jobs)
	}
}

// StartPeriodicFlush flushes every timeThreshold until ctx ends, then flushes once more
func (a *JobUpdateAggregator) StartPeriodicFlush(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.timeThreshold)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				a.FlushAll(context.Background())
				return
			case <-ticker.C:
				a.FlushAll(ctx)
			}
		}
	}()
}

func (a *JobUpdateAggregator) drain() []*models.Job {
	a.mu.Lock()
	defer a.mu.Unlock()
	jobs := make([]*models.Job, 0, len(a.pending))
	for _, job := range a.pending {
		jobs = append(jobs, job)
	}
	a.pending = make(map[string]*models.Job)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// safeOnTrigger wraps onTrigger with panic recovery to prevent crashes
func (a *JobUpdateAggregator) safeOnTrigger(ctx context.Context, jobs []*models.Job) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Int("job_count", len(jobs)).
				Msg("PANIC in JobUpdateAggregator.onTrigger - recovered")
		}
	}()
	a.onTrigger(ctx, jobs)
}
