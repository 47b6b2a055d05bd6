package jsonfile

import (
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/interfaces"
)

// Manager implements the StorageManager interface over plain JSON files
type Manager struct {
	job    *JobStorage
	auth   *AuthStorage
	logger arbor.ILogger
}

// NewManager lays out <dir>/jobs and <dir>/credentials
func NewManager(logger arbor.ILogger, dir string) (interfaces.StorageManager, error) {
	job, err := NewJobStorage(filepath.Join(dir, "jobs"), logger)
	if err != nil {
		return nil, err
	}
	auth, err := NewAuthStorage(filepath.Join(dir, "credentials"), logger)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("dir", dir).Msg("File storage manager initialized")

	return &Manager{job: job, auth: auth, logger: logger}, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// AuthStorage returns the Auth storage interface
func (m *Manager) AuthStorage() interfaces.AuthStorage {
	return m.auth
}

// Close is a no-op; every write is already durable
func (m *Manager) Close() error {
	return nil
}
