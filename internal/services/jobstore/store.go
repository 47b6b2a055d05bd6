// -----------------------------------------------------------------------
// Job Store - in-memory job cache kept consistent with durable storage
// -----------------------------------------------------------------------

package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
)

// Store caches every Job in memory. Each mutation is persisted while the lock is
// held, so writes for one job reach storage in the order they were made.
type Store struct {
	storage interfaces.JobStorage
	events  interfaces.EventService
	logger  arbor.ILogger

	mu   sync.Mutex
	jobs map[string]*models.Job
}

// NewStore creates a job store; events may be nil
func NewStore(storage interfaces.JobStorage, events interfaces.EventService, logger arbor.ILogger) *Store {
	return &Store{
		storage: storage,
		events:  events,
		logger:  logger,
		jobs:    make(map[string]*models.Job),
	}
}

// Load replaces the cache with every readable persisted record
func (s *Store) Load(ctx context.Context) error {
	jobs, skipped, err := s.storage.LoadJobs(ctx)
	if err != nil {
		return err
	}
	for _, id := range skipped {
		s.logger.Warn().Str("job_id", id).Msg("Skipped malformed job record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[string]*models.Job, len(jobs))
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}

	s.logger.Info().Int("jobs", len(jobs)).Int("skipped", len(skipped)).Msg("Job store loaded")
	return nil
}

// Get returns a copy of the cached job; it never reads storage
func (s *Store) Get(id string) (*models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// GetAll returns copies of every cached job, sorted by id
func (s *Store) GetAll() []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Put stores the full record, replacing any prior record with the same id.
// The cache is updated even when persistence fails; the error is returned for logging.
func (s *Store) Put(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	stored := job.Clone()
	s.jobs[stored.ID] = stored
	err := s.persistLocked(ctx, stored)
	snapshot := stored.Clone()
	s.mu.Unlock()

	s.publish(ctx, interfaces.EventJobUpdated, snapshot)
	return err
}

// Update merges patch onto the cached record, creating an empty record with that
// id if none exists, and persists the result. Fields in one patch land together.
func (s *Store) Update(ctx context.Context, id string, patch models.JobPatch) (*models.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		job = &models.Job{ID: id}
		s.jobs[id] = job
	}
	patch.Apply(job)
	err := s.persistLocked(ctx, job)
	snapshot := job.Clone()
	s.mu.Unlock()

	s.publish(ctx, interfaces.EventJobUpdated, snapshot)
	return snapshot, err
}

// Delete removes the durable record and evicts the cache entry; deleting an absent job is not an error
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, cached := s.jobs[id]
	delete(s.jobs, id)
	err := s.storage.DeleteJob(ctx, id)
	s.mu.Unlock()

	if cached {
		s.publish(ctx, interfaces.EventJobDeleted, id)
	}
	return err
}

// SweepOlderThan removes every record last modified more than age ago, except
// the ids in keep. Failures are logged and swallowed.
func (s *Store) SweepOlderThan(ctx context.Context, age time.Duration, keep ...string) []string {
	s.mu.Lock()
	protected := make(map[string]*models.Job, len(keep))
	for _, id := range keep {
		if job, ok := s.jobs[id]; ok {
			protected[id] = job
		}
	}

	removed, err := s.storage.DeleteOlderThan(ctx, age)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Retention sweep failed")
	}

	var swept []string
	for _, id := range removed {
		if job, ok := protected[id]; ok {
			// Re-persist a protected job the sweep caught between progress writes
			if err := s.persistLocked(ctx, job); err != nil {
				s.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to restore protected job after sweep")
			}
			continue
		}
		delete(s.jobs, id)
		swept = append(swept, id)
	}
	s.mu.Unlock()

	for _, id := range swept {
		s.publish(ctx, interfaces.EventJobDeleted, id)
	}
	if len(swept) > 0 {
		s.logger.Info().Int("removed", len(swept)).Dur("age", age).Msg("Swept expired jobs")
	}
	return swept
}

func (s *Store) persistLocked(ctx context.Context, job *models.Job) error {
	if err := s.storage.SaveJob(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job")
		return err
	}
	return nil
}

func (s *Store) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to publish job event")
	}
}
