package errors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retryer runs an operation with bounded exponential backoff. Delays follow
// BaseDelay * 2^attempt (1s, 2s, 4s, ... with the defaults), with jitter
// disabled so the schedule is deterministic. A failed attempt blocks only the
// current job; the orchestrator carries no cross-job retry state.
type Retryer struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *slog.Logger

	// Sleep is overridable for tests; nil means a context-aware time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryer creates a retryer with the given attempt budget and base delay.
// Non-positive arguments fall back to 3 attempts and 1 second.
func NewRetryer(maxAttempts int, baseDelay time.Duration, logger *slog.Logger) *Retryer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retryer{MaxAttempts: maxAttempts, BaseDelay: baseDelay, Logger: logger}
}

// Do executes op up to MaxAttempts times, sleeping between failed attempts.
// It stops early on context cancellation or when the error is not Retryable.
// The returned error is the last attempt's error wrapped in the attempt count.
func (r *Retryer) Do(ctx context.Context, operation string, op func() error) (int, error) {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = r.BaseDelay
	strategy.Multiplier = 2.0
	strategy.RandomizationFactor = 0
	strategy.MaxInterval = r.BaseDelay << 16
	strategy.MaxElapsedTime = 0
	strategy.Reset()

	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, fmt.Errorf("%s canceled: %w", operation, err)
		}

		lastErr = op()
		if lastErr == nil {
			return attempt, nil
		}

		if !Retryable(lastErr) {
			r.Logger.Error("operation failed with permanent error",
				"operation", operation,
				"attempt", attempt,
				"error", lastErr)
			return attempt, lastErr
		}

		if attempt == r.MaxAttempts {
			break
		}

		delay := strategy.NextBackOff()
		r.Logger.Warn("operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", r.MaxAttempts,
			"delay", delay,
			"error", lastErr)

		if err := sleep(ctx, delay); err != nil {
			return attempt, fmt.Errorf("%s canceled during backoff: %w", operation, err)
		}
	}

	return r.MaxAttempts, fmt.Errorf("%s failed after %d attempts: %w", operation, r.MaxAttempts, lastErr)
}

// sleepCtx blocks for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
