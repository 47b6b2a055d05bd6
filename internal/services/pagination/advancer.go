// -----------------------------------------------------------------------
// Pagination Advancer - moves a result view to its next page
// -----------------------------------------------------------------------

package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/retry"
)

// Outcome classifies one Advance call
type Outcome int

const (
	// Moved means the result set changed: the view is on a new page
	Moved Outcome = iota
	// Exhausted means there is no next page
	Exhausted
	// Failed means every attempt and rescue left the view on the same page
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Moved:
		return "moved"
	case Exhausted:
		return "exhausted"
	default:
		return "failed"
	}
}

// ResultView is the live, paginated result list
type ResultView interface {
	// Fingerprint summarizes the visible result set; "" means nothing is rendered yet
	Fingerprint(ctx context.Context) (string, error)
	// Exhausted reports whether the "no more results" banner is shown
	Exhausted(ctx context.Context) (bool, error)
	// NextControl returns a selector for a usable next-page control, preferring a numbered page button
	NextControl(ctx context.Context) (selector string, ok bool, err error)
	Click(ctx context.Context, selector string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
}

// Config bounds the advance protocol
type Config struct {
	MaxAttempts   int
	SettleTimeout time.Duration
	PollInterval  time.Duration
	PageParams    []string
	OffsetParams  []string
	PageSize      int
}

// ConfigFrom maps the scraper pagination settings
func ConfigFrom(c common.PaginationConfig) Config {
	return Config{
		MaxAttempts:   c.MaxAttempts,
		SettleTimeout: c.SettleTimeout.Or(20 * time.Second),
		PollInterval:  c.PollInterval.Or(500 * time.Millisecond),
		PageParams:    c.PageParams,
		OffsetParams:  c.OffsetParams,
		PageSize:      c.PageSize,
	}
}

// Advancer implements the next-page protocol. It trusts content fingerprints, not clicks.
type Advancer struct {
	config Config
	logger arbor.ILogger
}

// NewAdvancer creates an advancer
func NewAdvancer(config Config, logger arbor.ILogger) *Advancer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.SettleTimeout <= 0 {
		config.SettleTimeout = 20 * time.Second
	}
	return &Advancer{config: config, logger: logger}
}

// errStuck marks an attempt that ended with the same result set
var errStuck = errors.New("result set did not change")

// Advance moves view to its next page. The error is non-nil only when ctx ends.
func (a *Advancer) Advance(ctx context.Context, view ResultView) (Outcome, error) {
	f0, err := view.Fingerprint(ctx)
	if err != nil {
		a.logger.Debug().Err(err).Msg("Initial fingerprint unavailable")
	}

	if a.exhausted(ctx, view) {
		return Exhausted, nil
	}

	// Only a clean "no control" answer means exhaustion; evaluation errors go to the attempt loop
	_, ok, err := view.NextControl(ctx)
	if !ok && err == nil {
		// The control can render a beat after the list; look once more before concluding
		if err := sleep(ctx, a.config.PollInterval); err != nil {
			return Failed, err
		}
		if a.exhausted(ctx, view) {
			return Exhausted, nil
		}
		_, ok, err = view.NextControl(ctx)
		if !ok && err == nil {
			return Exhausted, nil
		}
	}
	if err != nil {
		a.logger.Debug().Err(err).Msg("Next control lookup failed")
	}

	outcome, _, err := retry.Run(ctx, retry.Options[Outcome]{
		Name:     "pagination.advance",
		Attempts: a.config.MaxAttempts,
		Action: func(ctx context.Context, attempt int) (Outcome, error) {
			if attempt > 1 {
				// The reload may have landed on the next page already
				if o, settled := a.check(ctx, view, f0); settled {
					return o, nil
				}
			}
			return a.clickAndWait(ctx, view, f0)
		},
		Recover: func(ctx context.Context, attempt int) error {
			return view.Reload(ctx)
		},
		Logger: a.logger,
	})
	if err == nil {
		return outcome, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Failed, ctxErr
	}

	a.logger.Warn().Int("attempts", a.config.MaxAttempts).Msg("Pagination stuck, attempting reload rescue")
	if err := view.Reload(ctx); err != nil {
		a.logger.Debug().Err(err).Msg("Rescue reload failed")
	} else {
		if o, settled := a.check(ctx, view, f0); settled {
			return o, nil
		}
		if o, err := a.clickAndWait(ctx, view, f0); err == nil {
			return o, nil
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Failed, ctxErr
	}

	if current, err := view.CurrentURL(ctx); err == nil {
		if next, ok := nextPageURL(current, a.config); ok {
			a.logger.Warn().Str("url", next).Msg("Attempting URL rescue")
			if err := view.Navigate(ctx, next); err != nil {
				a.logger.Debug().Err(err).Msg("URL rescue navigation failed")
			} else if o, err := a.waitForChange(ctx, view, f0); err == nil {
				return o, nil
			}
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Failed, ctxErr
	}

	return Failed, nil
}

func (a *Advancer) clickAndWait(ctx context.Context, view ResultView, f0 string) (Outcome, error) {
	selector, ok, err := view.NextControl(ctx)
	if err != nil {
		return Failed, err
	}
	if !ok {
		return Failed, fmt.Errorf("next control not available")
	}
	if err := view.Click(ctx, selector); err != nil {
		return Failed, fmt.Errorf("click %s: %w", selector, err)
	}
	return a.waitForChange(ctx, view, f0)
}

// waitForChange polls until the banner appears or the fingerprint differs from f0, up to SettleTimeout
func (a *Advancer) waitForChange(ctx context.Context, view ResultView, f0 string) (Outcome, error) {
	deadline := time.Now().Add(a.config.SettleTimeout)
	for {
		if o, settled := a.check(ctx, view, f0); settled {
			return o, nil
		}
		if time.Now().After(deadline) {
			return Failed, errStuck
		}
		if err := sleep(ctx, a.config.PollInterval); err != nil {
			return Failed, err
		}
	}
}

func (a *Advancer) check(ctx context.Context, view ResultView, f0 string) (Outcome, bool) {
	if a.exhausted(ctx, view) {
		return Exhausted, true
	}
	fp, err := view.Fingerprint(ctx)
	if err == nil && fp != "" && fp != f0 {
		return Moved, true
	}
	return Failed, false
}

func (a *Advancer) exhausted(ctx context.Context, view ResultView) bool {
	done, err := view.Exhausted(ctx)
	if err != nil {
		a.logger.Debug().Err(err).Msg("Exhaustion check failed")
		return false
	}
	return done
}

// nextPageURL increments the first page-number or row-offset query parameter present in raw
func nextPageURL(raw string, config Config) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	query := u.Query()

	for _, key := range config.PageParams {
		if n, err := strconv.Atoi(query.Get(key)); err == nil && n >= 0 {
			query.Set(key, strconv.Itoa(n+1))
			u.RawQuery = query.Encode()
			return u.String(), true
		}
	}
	for _, key := range config.OffsetParams {
		if n, err := strconv.Atoi(query.Get(key)); err == nil && n >= 0 && config.PageSize > 0 {
			query.Set(key, strconv.Itoa(n+config.PageSize))
			u.RawQuery = query.Encode()
			return u.String(), true
		}
	}
	return "", false
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
