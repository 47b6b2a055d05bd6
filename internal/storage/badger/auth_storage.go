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

// AuthStorage implements the AuthStorage interface for Badger
type AuthStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAuthStorage creates a new AuthStorage instance
func NewAuthStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AuthStorage {
	return &AuthStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AuthStorage) StoreCredentials(ctx context.Context, credentials *models.AuthCredentials) error {
	if credentials.SiteDomain == "" {
		return fmt.Errorf("credentials site domain is required")
	}
	if credentials.ID == "" {
		credentials.ID = credentials.SiteDomain
	}

	now := time.Now().Unix()
	if credentials.CreatedAt == 0 {
		credentials.CreatedAt = now
	}
	credentials.UpdatedAt = now

	if err := s.db.Store().Upsert(credentials.ID, credentials); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

func (s *AuthStorage) GetCredentials(ctx context.Context, siteDomain string) (*models.AuthCredentials, error) {
	var creds []models.AuthCredentials
	if err := s.db.Store().Find(&creds, badgerhold.Where("SiteDomain").Eq(siteDomain)); err != nil {
		return nil, fmt.Errorf("failed to find credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrCredentialNotFound, siteDomain)
	}
	return &creds[0], nil
}

func (s *AuthStorage) DeleteCredentials(ctx context.Context, siteDomain string) error {
	creds, err := s.GetCredentials(ctx, siteDomain)
	if err != nil {
		if errors.Is(err, interfaces.ErrCredentialNotFound) {
			return nil
		}
		return err
	}
	if err := s.db.Store().Delete(creds.ID, &models.AuthCredentials{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

func (s *AuthStorage) ListDomains(ctx context.Context) ([]string, error) {
	var creds []models.AuthCredentials
	if err := s.db.Store().Find(&creds, nil); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	domains := make([]string, len(creds))
	for i, c := range creds {
		domains[i] = c.SiteDomain
	}
	return domains, nil
}
