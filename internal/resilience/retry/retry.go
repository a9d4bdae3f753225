// Package retry re-runs an operation a bounded number of times with a fixed
// delay between attempts.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// Retryable decides whether a failed attempt may be repeated.
	// A nil Retryable retries every error.
	Retryable func(error) bool
	// Logger receives per-attempt warnings; nil uses slog.Default().
	Logger *slog.Logger
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted. It returns the number of attempts made and the last error.
// Each attempt receives ctx; Do stops waiting early if ctx is cancelled.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	maxAttempts := p.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				log.Info("operation succeeded after retry", slog.Int("attempt", attempt))
			}
			return attempt, nil
		}

		if p.Retryable != nil && !p.Retryable(lastErr) {
			log.Warn("non-retryable error, aborting",
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr))
			return attempt, lastErr
		}

		if attempt == maxAttempts {
			break
		}

		log.Warn("operation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", p.Delay),
			slog.Any("error", lastErr))

		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return attempt, fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}

	return maxAttempts, fmt.Errorf("max retry attempts (%d) exceeded: %w", maxAttempts, lastErr)
}
