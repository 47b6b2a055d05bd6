// -----------------------------------------------------------------------
// Sidebar Orchestrator - open, authenticate and extract one sidebar tool
// -----------------------------------------------------------------------

package sidebar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/retry"
)

var (
	// ErrNotLoggedIn is returned when the sidebar still asks for a login after re-authentication
	ErrNotLoggedIn = errors.New("sidebar is not logged in")

	errLoginPrompt = errors.New("sidebar shows a login prompt")
)

// Orchestrator drives one third-party sidebar described by a profile
type Orchestrator struct {
	profile     common.SidebarProfile
	credentials interfaces.CredentialProvider
	logger      arbor.ILogger

	mu        sync.Mutex
	sessionID string
	frame     interfaces.BrowserSession
}

// NewOrchestrator creates an orchestrator; credentials may be nil when the sidebar cannot be re-authenticated
func NewOrchestrator(profile common.SidebarProfile, credentials interfaces.CredentialProvider, logger arbor.ILogger) *Orchestrator {
	if profile.Attempts <= 0 {
		profile.Attempts = 3
	}
	return &Orchestrator{profile: profile, credentials: credentials, logger: logger}
}

// Name identifies the sidebar in logs
func (o *Orchestrator) Name() string {
	return o.profile.Name
}

// EnsureReady opens the sidebar if it is closed and confirms it is logged in.
// A login prompt triggers exactly one re-authentication cycle.
func (o *Orchestrator) EnsureReady(ctx context.Context, session interfaces.BrowserSession) error {
	err := o.readyWithRetry(ctx, session)
	if err == nil || !errors.Is(err, errLoginPrompt) {
		return err
	}

	if !o.reauthenticate(ctx, session) {
		return fmt.Errorf("%s: %w", o.profile.Name, ErrNotLoggedIn)
	}
	if err := o.ready(ctx, session); err != nil {
		if errors.Is(err, errLoginPrompt) {
			return fmt.Errorf("%s: %w", o.profile.Name, ErrNotLoggedIn)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) readyWithRetry(ctx context.Context, session interfaces.BrowserSession) error {
	_, _, err := retry.Run(ctx, retry.Options[struct{}]{
		Name:     o.profile.Name + ".ensure_ready",
		Attempts: o.profile.Attempts,
		Action: func(ctx context.Context, attempt int) (struct{}, error) {
			return struct{}{}, o.ready(ctx, session)
		},
		Retryable: func(err error) bool { return !errors.Is(err, errLoginPrompt) },
		Recover: func(ctx context.Context, attempt int) error {
			o.dropFrame()
			return session.Reload(ctx)
		},
		Backoff: retry.DefaultBackoff(),
		Logger:  o.logger,
	})
	return err
}

// ready is one open-and-check pass
func (o *Orchestrator) ready(ctx context.Context, session interfaces.BrowserSession) error {
	readyTimeout := o.profile.ReadyTimeout.Or(20 * time.Second)

	if o.profile.PanelSelector != "" {
		open, err := session.Exists(ctx, o.profile.PanelSelector)
		if err != nil {
			return fmt.Errorf("check %s panel: %w", o.profile.Name, err)
		}
		if !open {
			if o.profile.ToggleSelector == "" {
				return fmt.Errorf("%s panel is closed and no toggle is configured", o.profile.Name)
			}
			if err := session.Click(ctx, o.profile.ToggleSelector); err != nil {
				return fmt.Errorf("open %s: %w", o.profile.Name, err)
			}
			if err := session.WaitVisible(ctx, o.profile.PanelSelector, readyTimeout); err != nil {
				return fmt.Errorf("wait for %s panel: %w", o.profile.Name, err)
			}
		}
	}

	view, err := o.view(ctx, session)
	if err != nil {
		return err
	}
	if o.profile.LoginSelector != "" {
		prompt, err := view.Exists(ctx, o.profile.LoginSelector)
		if err != nil {
			return fmt.Errorf("check %s login: %w", o.profile.Name, err)
		}
		if prompt {
			return errLoginPrompt
		}
	}
	return nil
}

func (o *Orchestrator) reauthenticate(ctx context.Context, session interfaces.BrowserSession) bool {
	domain := o.profile.CredentialDomain
	if domain == "" || o.credentials == nil || !o.credentials.HasStoredCredential(ctx, domain) {
		o.logger.Warn().Str("sidebar", o.profile.Name).Msg("Login prompt detected and no stored credentials to re-authenticate")
		return false
	}

	o.logger.Info().Str("sidebar", o.profile.Name).Str("domain", domain).Msg("Re-authenticating sidebar")
	if err := o.credentials.Inject(ctx, session, domain); err != nil {
		o.logger.Warn().Err(err).Str("sidebar", o.profile.Name).Msg("Cookie injection failed")
		return false
	}
	o.dropFrame()
	if err := session.Reload(ctx); err != nil {
		o.logger.Warn().Err(err).Str("sidebar", o.profile.Name).Msg("Reload after re-authentication failed")
		return false
	}
	return true
}

// Extract waits for the sidebar results and parses every row
func (o *Orchestrator) Extract(ctx context.Context, session interfaces.BrowserSession) ([]Row, error) {
	rows, _, err := retry.Run(ctx, retry.Options[[]Row]{
		Name:     o.profile.Name + ".extract",
		Attempts: o.profile.Attempts,
		Action: func(ctx context.Context, attempt int) ([]Row, error) {
			return o.extractOnce(ctx, session)
		},
		Retryable: func(err error) bool { return !errors.Is(err, ErrNotLoggedIn) },
		Recover: func(ctx context.Context, attempt int) error {
			o.dropFrame()
			if err := session.Reload(ctx); err != nil {
				return err
			}
			return o.EnsureReady(ctx, session)
		},
		Backoff: retry.DefaultBackoff(),
		Logger:  o.logger,
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (o *Orchestrator) extractOnce(ctx context.Context, session interfaces.BrowserSession) ([]Row, error) {
	view, err := o.view(ctx, session)
	if err != nil {
		return nil, err
	}
	if o.profile.ResultsSelector != "" {
		if err := view.WaitVisible(ctx, o.profile.ResultsSelector, o.profile.ResultsTimeout.Or(45*time.Second)); err != nil {
			return nil, fmt.Errorf("wait for %s results: %w", o.profile.Name, err)
		}
	}

	html, err := view.OuterHTML(ctx, "html")
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", o.profile.Name, err)
	}
	rows, err := ParseRows(html, o.profile.RowSelector, o.profile.Fields)
	if err != nil {
		return nil, err
	}

	o.logger.Debug().Str("sidebar", o.profile.Name).Int("rows", len(rows)).Msg("Extracted sidebar rows")
	return rows, nil
}

// view returns the session the sidebar content lives in: the main session, or its attached frame
func (o *Orchestrator) view(ctx context.Context, session interfaces.BrowserSession) (interfaces.BrowserSession, error) {
	if o.profile.FrameURLContains == "" {
		return session, nil
	}

	o.mu.Lock()
	if o.frame != nil && o.sessionID == session.ID() {
		frame := o.frame
		o.mu.Unlock()
		return frame, nil
	}
	o.mu.Unlock()

	frame, err := session.AttachFrame(ctx, o.profile.FrameURLContains, o.profile.ReadyTimeout.Or(20*time.Second))
	if err != nil {
		return nil, fmt.Errorf("attach %s frame: %w", o.profile.Name, err)
	}

	o.mu.Lock()
	o.frame = frame
	o.sessionID = session.ID()
	o.mu.Unlock()
	return frame, nil
}

func (o *Orchestrator) dropFrame() {
	o.mu.Lock()
	o.frame = nil
	o.sessionID = ""
	o.mu.Unlock()
}
