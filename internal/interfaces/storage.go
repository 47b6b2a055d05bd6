package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/prospector/internal/models"
)

var (
	// ErrJobRecordNotFound is returned by JobStorage when no record exists for an id
	ErrJobRecordNotFound = errors.New("job record not found")
	// ErrCredentialNotFound is returned when no credentials are stored for a domain
	ErrCredentialNotFound = errors.New("credentials not found")
)

// JobStorage - durable persistence of Job records, one record per job id
type JobStorage interface {
	// SaveJob writes the full record, overwriting any prior record with the same id
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// LoadJobs returns every readable record; malformed records are reported in skipped, never as an error
	LoadJobs(ctx context.Context) (jobs []*models.Job, skipped []string, err error)
	// DeleteJob is idempotent
	DeleteJob(ctx context.Context, id string) error
	// DeleteOlderThan removes records whose last modification is older than age and returns their ids
	DeleteOlderThan(ctx context.Context, age time.Duration) ([]string, error)
}

// AuthStorage - interface for authentication data
type AuthStorage interface {
	StoreCredentials(ctx context.Context, credentials *models.AuthCredentials) error
	GetCredentials(ctx context.Context, siteDomain string) (*models.AuthCredentials, error)
	DeleteCredentials(ctx context.Context, siteDomain string) error
	ListDomains(ctx context.Context) ([]string, error)
}

// StorageManager - interface for the selected storage backend
type StorageManager interface {
	JobStorage() JobStorage
	AuthStorage() AuthStorage
	Close() error
}
