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

// AuthStorage keeps one JSON document per site domain under dir
type AuthStorage struct {
	dir    string
	logger arbor.ILogger
}

// NewAuthStorage creates an AuthStorage rooted at dir
func NewAuthStorage(dir string, logger arbor.ILogger) (*AuthStorage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create auth directory: %w", err)
	}
	return &AuthStorage{dir: dir, logger: logger}, nil
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

	path, err := recordPath(s.dir, credentials.SiteDomain)
	if err != nil {
		return err
	}
	if err := writeJSON(path, credentials); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

func (s *AuthStorage) GetCredentials(ctx context.Context, siteDomain string) (*models.AuthCredentials, error) {
	path, err := recordPath(s.dir, siteDomain)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrCredentialNotFound, siteDomain)
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds models.AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("malformed credentials for %s: %w", siteDomain, err)
	}
	return &creds, nil
}

func (s *AuthStorage) DeleteCredentials(ctx context.Context, siteDomain string) error {
	path, err := recordPath(s.dir, siteDomain)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

func (s *AuthStorage) ListDomains(ctx context.Context) ([]string, error) {
	domains, err := listRecords(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return domains, nil
}
