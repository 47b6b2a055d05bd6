package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// jobRecord wraps a Job with the write time the retention sweep keys on.
// Badger has no per-key mtime that survives compaction, so it is stored alongside.
type jobRecord struct {
	ID         string
	Job        models.Job
	ModifiedAt int64 `badgerholdIndex:"ModifiedAt"` // unix nanoseconds
}

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	now    func() time.Time
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	record := &jobRecord{
		ID:         job.ID,
		Job:        *job,
		ModifiedAt: s.now().UnixNano(),
	}
	if err := s.db.Store().Upsert(job.ID, record); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var record jobRecord
	if err := s.db.Store().Get(id, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrJobRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	job := record.Job
	return &job, nil
}

func (s *JobStorage) LoadJobs(ctx context.Context) ([]*models.Job, []string, error) {
	var records []jobRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(records))
	var skipped []string
	for i := range records {
		job := records[i].Job
		if job.ID == "" || job.ID != records[i].ID {
			skipped = append(skipped, records[i].ID)
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, skipped, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &jobRecord{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) DeleteOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	cutoff := s.now().Add(-age).UnixNano()

	var stale []jobRecord
	if err := s.db.Store().Find(&stale, badgerhold.Where("ModifiedAt").Lt(cutoff)); err != nil {
		return nil, fmt.Errorf("failed to find stale jobs: %w", err)
	}

	removed := make([]string, 0, len(stale))
	for _, record := range stale {
		if err := s.DeleteJob(ctx, record.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", record.ID).Msg("Failed to delete stale job")
			continue
		}
		removed = append(removed, record.ID)
	}
	return removed, nil
}
