// -----------------------------------------------------------------------
// Credential Provider - stored cookie sessions scoped to a site domain
// -----------------------------------------------------------------------

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
)

// CapturePayload is what the cookie-capture browser extension posts
type CapturePayload struct {
	Cookies   []models.Cookie `json:"cookies" validate:"required,min=1,dive"`
	UserAgent string          `json:"userAgent"`
	BaseURL   string          `json:"baseUrl" validate:"required,url"`
	Timestamp int64           `json:"timestamp"`
}

// Service manages stored cookie credentials
type Service struct {
	storage interfaces.AuthStorage
	logger  arbor.ILogger
	now     func() time.Time
}

// NewService creates a new credential service
func NewService(storage interfaces.AuthStorage, logger arbor.ILogger) *Service {
	return &Service{storage: storage, logger: logger, now: time.Now}
}

// NormalizeDomain reduces a URL, host or cookie domain to a bare registrable-looking host
func NormalizeDomain(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if strings.Contains(value, "://") {
		if u, err := url.Parse(value); err == nil {
			value = u.Hostname()
		}
	}
	value = strings.TrimPrefix(value, ".")
	return strings.TrimPrefix(value, "www.")
}

// HasStoredCredential reports whether domain has at least one cookie that has not expired
func (s *Service) HasStoredCredential(ctx context.Context, domain string) bool {
	creds, err := s.LoadCredential(ctx, domain)
	if err != nil {
		return false
	}
	now := s.now().Unix()
	for _, c := range creds.Cookies {
		if c.Expires == 0 || c.Expires > now {
			return true
		}
	}
	return false
}

// LoadCredential returns the stored credentials for domain
func (s *Service) LoadCredential(ctx context.Context, domain string) (*models.AuthCredentials, error) {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", interfaces.ErrCredentialNotFound)
	}
	return s.storage.GetCredentials(ctx, domain)
}

// Store saves credentials under their normalized site domain
func (s *Service) Store(ctx context.Context, creds *models.AuthCredentials) error {
	creds.SiteDomain = NormalizeDomain(creds.SiteDomain)
	if creds.SiteDomain == "" {
		return fmt.Errorf("credentials site domain is required")
	}
	creds.ID = creds.SiteDomain
	if err := s.storage.StoreCredentials(ctx, creds); err != nil {
		return err
	}
	s.logger.Info().Str("domain", creds.SiteDomain).Int("cookies", len(creds.Cookies)).Msg("Stored credentials")
	return nil
}

// Capture stores a payload posted by the browser extension and returns the domain it was stored under
func (s *Service) Capture(ctx context.Context, payload *CapturePayload) (string, error) {
	domain := NormalizeDomain(payload.BaseURL)
	creds := &models.AuthCredentials{
		SiteDomain: domain,
		Cookies:    payload.Cookies,
		UserAgent:  payload.UserAgent,
	}
	if err := s.Store(ctx, creds); err != nil {
		return "", err
	}
	return creds.SiteDomain, nil
}

// ImportDir loads every <domain>.json in dir. A file is either a bare cookie
// array (the extension's export format, domain taken from the file name) or a
// full credentials object. Unreadable files are logged and skipped.
func (s *Service) ImportDir(ctx context.Context, dir string) int {
	if dir == "" {
		return 0
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil || len(paths) == 0 {
		return 0
	}

	imported := 0
	for _, path := range paths {
		creds, err := readExport(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", path).Msg("Skipping cookie export")
			continue
		}
		if err := s.Store(ctx, creds); err != nil {
			s.logger.Warn().Err(err).Str("file", path).Msg("Failed to store imported credentials")
			continue
		}
		imported++
	}
	return imported
}

func readExport(path string) (*models.AuthCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fileDomain := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var cookies []models.Cookie
	if err := json.Unmarshal(data, &cookies); err == nil {
		return &models.AuthCredentials{SiteDomain: fileDomain, Cookies: cookies}, nil
	}

	var creds models.AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("not a cookie export: %w", err)
	}
	if creds.SiteDomain == "" {
		creds.SiteDomain = fileDomain
	}
	return &creds, nil
}

// Inject sets the stored cookies for domain on session
func (s *Service) Inject(ctx context.Context, session interfaces.BrowserSession, domain string) error {
	creds, err := s.LoadCredential(ctx, domain)
	if err != nil {
		return err
	}
	if len(creds.Cookies) == 0 {
		return fmt.Errorf("%w: %s has no cookies", interfaces.ErrCredentialNotFound, domain)
	}
	if err := session.SetCookies(ctx, creds.Cookies); err != nil {
		return fmt.Errorf("inject cookies for %s: %w", domain, err)
	}
	return nil
}

// IsNotFound reports whether err means no credentials are stored
func IsNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrCredentialNotFound)
}
