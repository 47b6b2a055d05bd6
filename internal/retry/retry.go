// -----------------------------------------------------------------------
// Bounded retry with recovery - shared by pagination and both sidebars
// -----------------------------------------------------------------------

package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"
)

// ErrExhausted is returned when every attempt ran without the success predicate holding
var ErrExhausted = errors.New("retry attempts exhausted")

// Backoff calculates exponential backoff with ±25% jitter
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns the backoff used between UI retries
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Max:        15 * time.Second,
		Multiplier: 2.0,
	}
}

// CalculateBackoff returns the wait before the attempt following attempt (1-based)
func (b Backoff) CalculateBackoff(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	backoff := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		backoff *= multiplier
	}
	if b.Max > 0 && backoff > float64(b.Max) {
		backoff = float64(b.Max)
	}

	// Add jitter (±25%)
	backoff += backoff * 0.25 * (rand.Float64()*2 - 1)
	if backoff < 0 {
		backoff = float64(b.Initial)
	}
	return time.Duration(backoff)
}

// Options parameterizes Run
type Options[T any] struct {
	// Name labels log lines
	Name     string
	Attempts int
	// Action performs one attempt; attempt is 1-based
	Action func(ctx context.Context, attempt int) (T, error)
	// Succeeded decides whether a nil-error result is good enough. Nil means any nil error succeeds.
	Succeeded func(T) bool
	// Retryable reports whether an action error is worth another attempt. Nil means every error is.
	Retryable func(error) bool
	// Recover runs between a failed attempt and the next one, e.g. a page reload
	Recover func(ctx context.Context, attempt int) error
	// Backoff is waited after Recover; zero value means no wait
	Backoff Backoff
	Logger  arbor.ILogger
}

// Run executes Action up to Attempts times, running Recover between failed attempts.
// It returns the last value, the number of attempts used and, on failure, the last
// action error or ErrExhausted when the actions returned without error but never succeeded.
func Run[T any](ctx context.Context, opts Options[T]) (T, int, error) {
	var zero T
	if opts.Action == nil {
		return zero, 0, fmt.Errorf("retry %s: no action", opts.Name)
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var (
		last    T
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, attempt - 1, err
		}

		last, lastErr = opts.Action(ctx, attempt)
		if lastErr == nil && (opts.Succeeded == nil || opts.Succeeded(last)) {
			return last, attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return last, attempt, ctxErr
		}
		if lastErr != nil && opts.Retryable != nil && !opts.Retryable(lastErr) {
			return last, attempt, lastErr
		}

		if attempt == attempts {
			break
		}

		if opts.Logger != nil {
			opts.Logger.Debug().
				Str("operation", opts.Name).
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Err(lastErr).
				Msg("Attempt did not succeed, recovering")
		}

		if opts.Recover != nil {
			if err := opts.Recover(ctx, attempt); err != nil && opts.Logger != nil {
				opts.Logger.Warn().
					Str("operation", opts.Name).
					Int("attempt", attempt).
					Err(err).
					Msg("Recovery step failed")
			}
		}

		if wait := opts.Backoff.CalculateBackoff(attempt); wait > 0 {
			select {
			case <-ctx.Done():
				return last, attempt, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	if opts.Logger != nil {
		opts.Logger.Warn().
			Str("operation", opts.Name).
			Int("max_attempts", attempts).
			Err(lastErr).
			Msg("All retry attempts exhausted")
	}

	if lastErr == nil {
		lastErr = ErrExhausted
	}
	return last, attempts, lastErr
}
