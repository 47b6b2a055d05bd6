package pacing

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/interfaces"
	"golang.org/x/time/rate"
)

// Jitter returns a uniformly random duration in [min, max]
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// Sleep waits a random duration in [min, max], returning early with ctx.Err() on cancellation
func Sleep(ctx context.Context, min, max time.Duration) error {
	d := Jitter(min, max)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pacer performs the human-like settle step between extraction and pagination
type Pacer struct {
	config  common.PacingConfig
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewPacer creates a pacer; MinInterval caps how often Settle may start
func NewPacer(config common.PacingConfig, logger arbor.ILogger) *Pacer {
	limit := rate.Inf
	if config.MinInterval.Duration > 0 {
		limit = rate.Every(config.MinInterval.Duration)
	}
	return &Pacer{
		config:  config,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Settle waits a bounded random delay then scrolls the view in random increments
// so lazily rendered rows load before the page is fingerprinted.
func (p *Pacer) Settle(ctx context.Context, session interfaces.BrowserSession) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := Sleep(ctx, p.config.MinDelay.Duration, p.config.MaxDelay.Duration); err != nil {
		return err
	}

	stepPause := p.config.MinDelay.Duration / 4
	for step := 0; step < p.config.ScrollSteps; step++ {
		distance := p.config.ScrollMin
		if p.config.ScrollMax > p.config.ScrollMin {
			distance += rand.Intn(p.config.ScrollMax - p.config.ScrollMin + 1)
		}
		expr, err := scrollExpression(p.config.ScrollTarget, distance)
		if err != nil {
			return err
		}
		if err := session.Evaluate(ctx, expr, nil); err != nil {
			// A failed scroll only delays lazy rows; pagination fingerprinting still catches a stale view
			p.logger.Debug().Err(err).Int("step", step).Msg("Scroll step failed")
			break
		}
		if err := Sleep(ctx, stepPause/2, stepPause); err != nil {
			return err
		}
	}
	return nil
}

func scrollExpression(target string, distance int) (string, error) {
	if target == "" {
		return fmt.Sprintf("window.scrollBy(0, %d)", distance), nil
	}
	sel, err := json.Marshal(target)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); if (el) { el.scrollBy(0, %d); } else { window.scrollBy(0, %d); } })()`, sel, distance, distance), nil
}
