package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
)

// JobStorage keeps one JSON document per job under dir. The file mtime is the retention clock.
type JobStorage struct {
	dir    string
	logger arbor.ILogger
	now    func() time.Time
}

// NewJobStorage creates a JobStorage rooted at dir
func NewJobStorage(dir string, logger arbor.ILogger) (*JobStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}
	return &JobStorage{dir: dir, logger: logger, now: time.Now}, nil
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	path, err := recordPath(s.dir, job.ID)
	if err != nil {
		return err
	}
	if err := writeJSON(path, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	path, err := recordPath(s.dir, id)
	if err != nil {
		return nil, err
	}
	job, err := readJob(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrJobRecordNotFound, id)
		}
		return nil, err
	}
	return job, nil
}

func (s *JobStorage) LoadJobs(ctx context.Context) ([]*models.Job, []string, error) {
	keys, err := listRecords(s.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(keys))
	var skipped []string
	for _, key := range keys {
		path, err := recordPath(s.dir, key)
		if err != nil {
			skipped = append(skipped, key)
			continue
		}
		job, err := readJob(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", path).Msg("Skipping unreadable job record")
			skipped = append(skipped, key)
			continue
		}
		if job.ID == "" {
			job.ID = key
		}
		jobs = append(jobs, job)
	}
	return jobs, skipped, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, id string) error {
	path, err := recordPath(s.dir, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) DeleteOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	keys, err := listRecords(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	cutoff := s.now().Add(-age)
	var removed []string
	for _, key := range keys {
		path, err := recordPath(s.dir, key)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("job_id", key).Msg("Failed to delete stale job")
			continue
		}
		removed = append(removed, key)
	}
	return removed, nil
}

func readJob(path string) (*models.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("malformed job record: %w", err)
	}
	return &job, nil
}
