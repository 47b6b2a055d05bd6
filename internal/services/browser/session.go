package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
)

// Session is a chromedp tab, or a frame target attached from one
type Session struct {
	id            string
	ctx           context.Context
	actionTimeout time.Duration
	logger        arbor.ILogger

	// owned sessions close the browser; attached frames are released with their owner
	owned   bool
	release func()

	mu        sync.Mutex
	closed    bool
	frameStop []context.CancelFunc
}

func (s *Session) ID() string {
	return s.id
}

// run executes actions bounded by the action timeout and the caller's ctx
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.actionTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *Session) Reload(ctx context.Context) error {
	return s.run(ctx, s.actionTimeout, chromedp.Reload())
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, s.actionTimeout, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var found bool
	if err := s.Evaluate(ctx, fmt.Sprintf("document.querySelector(%s) !== null", sel), &found); err != nil {
		return false, err
	}
	return found, nil
}

func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, s.actionTimeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (s *Session) Evaluate(ctx context.Context, expression string, out interface{}) error {
	return s.run(ctx, s.actionTimeout, chromedp.Evaluate(expression, out))
}

func (s *Session) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := s.run(ctx, s.actionTimeout, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// SetCookies injects cookies through the network domain; individual failures are logged and skipped
func (s *Session) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	params := CookieParams(cookies, time.Now())
	return s.run(ctx, s.actionTimeout,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			injected := 0
			for _, cookie := range params {
				if err := network.SetCookie(cookie.Name, cookie.Value).
					WithDomain(cookie.Domain).
					WithPath(cookie.Path).
					WithSecure(cookie.Secure).
					WithHTTPOnly(cookie.HTTPOnly).
					WithSameSite(cookie.SameSite).
					WithExpires(cookie.Expires).
					Do(ctx); err != nil {
					s.logger.Warn().Err(err).Str("cookie_name", cookie.Name).Str("domain", cookie.Domain).Msg("Failed to inject cookie")
					continue
				}
				injected++
			}
			s.logger.Debug().Int("injected", injected).Int("total", len(params)).Msg("Cookie injection complete")
			if injected == 0 && len(params) > 0 {
				return fmt.Errorf("no cookies could be injected")
			}
			return nil
		}),
	)
}

// CookieParams converts stored cookies to CDP params. Expired expiries are dropped
// (the cookie becomes a session cookie) and leading dots are trimmed from domains.
func CookieParams(cookies []models.Cookie, now time.Time) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		var expires *cdp.TimeSinceEpoch
		if c.Expires > 0 {
			if expiresTime := time.Unix(c.Expires, 0); expiresTime.After(now) {
				timestamp := cdp.TimeSinceEpoch(expiresTime)
				expires = &timestamp
			}
		}

		path := c.Path
		if path == "" {
			path = "/"
		}

		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   strings.TrimPrefix(c.Domain, "."),
			Path:     path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  expires,
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			param.SameSite = network.CookieSameSiteStrict
		case "lax":
			param.SameSite = network.CookieSameSiteLax
		case "none", "no_restriction":
			param.SameSite = network.CookieSameSiteNone
		}
		params = append(params, param)
	}
	return params
}

// framePollInterval paces the target-list side of AttachFrame
const framePollInterval = 250 * time.Millisecond

// AttachFrame races a poll of the existing targets against a subscription to
// target-created and target-changed events. The first to see a target whose URL
// contains match wins and the other is cancelled.
func (s *Session) AttachFrame(ctx context.Context, match string, timeout time.Duration) (interfaces.BrowserSession, error) {
	raceCtx, cancelRace := context.WithTimeout(ctx, timeout)
	defer cancelRace()

	found := make(chan target.ID, 2)
	offer := func(id target.ID) {
		select {
		case found <- id:
		default:
		}
	}

	// Subscription side: listener is removed when listenCtx is cancelled
	listenCtx, stopListening := context.WithCancel(s.ctx)
	chromedp.ListenBrowser(listenCtx, func(ev interface{}) {
		var info *target.Info
		switch e := ev.(type) {
		case *target.EventTargetCreated:
			info = e.TargetInfo
		case *target.EventTargetInfoChanged:
			info = e.TargetInfo
		}
		if matchesFrame(info, match) {
			offer(info.TargetID)
		}
	})

	// Polling side
	pollCtx, stopPolling := context.WithCancel(raceCtx)
	go func() {
		ticker := time.NewTicker(framePollInterval)
		defer ticker.Stop()
		for {
			targets, err := chromedp.Targets(s.ctx)
			if err == nil {
				for _, info := range targets {
					if matchesFrame(info, match) {
						offer(info.TargetID)
						return
					}
				}
			}
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var targetID target.ID
	select {
	case targetID = <-found:
	case <-raceCtx.Done():
	}
	stopListening()
	stopPolling()

	if targetID == "" {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("no frame matching %q within %s", match, timeout)
	}

	frameCtx, frameCancel := chromedp.NewContext(s.ctx, chromedp.WithTargetID(targetID))
	frame := &Session{
		id:            uuid.NewString(),
		ctx:           frameCtx,
		actionTimeout: s.actionTimeout,
		logger:        s.logger,
	}
	// Attach now so a dead target fails here rather than on first use
	if err := frame.run(ctx, s.actionTimeout); err != nil {
		frameCancel()
		return nil, fmt.Errorf("attach frame %s: %w", targetID, err)
	}

	s.mu.Lock()
	s.frameStop = append(s.frameStop, frameCancel)
	s.mu.Unlock()

	s.logger.Debug().Str("target_id", string(targetID)).Str("match", match).Msg("Attached frame target")
	return frame, nil
}

func matchesFrame(info *target.Info, match string) bool {
	if info == nil || match == "" || !strings.Contains(info.URL, match) {
		return false
	}
	switch info.Type {
	case "iframe", "page", "other", "background_page":
		return true
	}
	return false
}

// Close releases the browser for an owned session. Closing an attached frame is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.owned {
		return nil
	}
	s.closed = true

	for _, stop := range s.frameStop {
		stop()
	}
	s.frameStop = nil
	if s.release != nil {
		s.release()
	}
	s.logger.Debug().Str("session_id", s.id).Msg("Browser session closed")
	return nil
}
