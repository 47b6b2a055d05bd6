package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/prospector/internal/models"
)

// BrowserSession is the handle to the single automated browser tab (or an attached sub-frame of it)
type BrowserSession interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	// Exists reports whether selector currently matches an element, without waiting
	Exists(ctx context.Context, selector string) (bool, error)
	// WaitVisible blocks until selector is visible or timeout elapses
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	// Evaluate runs a JavaScript expression and decodes its result into out (may be nil)
	Evaluate(ctx context.Context, expression string, out interface{}) error
	OuterHTML(ctx context.Context, selector string) (string, error)
	SetCookies(ctx context.Context, cookies []models.Cookie) error
	// AttachFrame returns a session bound to the first frame target whose URL contains match
	AttachFrame(ctx context.Context, match string, timeout time.Duration) (BrowserSession, error)
	Close() error
}

// BrowserProvider launches browser sessions
type BrowserProvider interface {
	Launch(ctx context.Context) (BrowserSession, error)
}

// CredentialProvider is the authentication artifact provider scoped to a site domain
type CredentialProvider interface {
	HasStoredCredential(ctx context.Context, domain string) bool
	LoadCredential(ctx context.Context, domain string) (*models.AuthCredentials, error)
	// Inject sets the stored cookies for domain on the session
	Inject(ctx context.Context, session BrowserSession, domain string) error
}
