// Package retry provides bounded retry with exponential backoff and jitter.
package retry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy configures a retry loop. The delay before attempt n (counting
// from zero) is BaseDelay * 2^n, capped at MaxDelay, with up to 25% jitter
// in either direction.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// RetryIf decides whether an error is worth retrying. Nil retries every
	// error.
	RetryIf func(error) bool
}

// DefaultPolicy returns a Policy with sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
	}
}

// Retryer runs functions under a Policy.
type Retryer struct {
	policy Policy
	logger *zap.Logger

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Retryer.
func New(policy Policy, logger *zap.Logger) *Retryer {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retryer{
		policy: policy,
		logger: logger.With(zap.String("component", "retry")),
		sleep:  sleepCtx,
	}
}

// Do runs fn until it succeeds, the retries are exhausted or the context is
// cancelled. It returns the last error.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.Backoff(attempt - 1)
			r.logger.Debug("retrying after backoff",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if r.policy.RetryIf != nil && !r.policy.RetryIf(lastErr) {
			return lastErr
		}
		if err := ctx.Err(); err != nil {
			return lastErr
		}
	}

	return lastErr
}

// Backoff returns the delay after the given zero-based failed attempt:
// BaseDelay * 2^attempt capped at MaxDelay, jittered by up to 25%.
func (r *Retryer) Backoff(attempt int) time.Duration {
	delay := r.policy.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= r.policy.MaxDelay {
			delay = r.policy.MaxDelay
			break
		}
	}
	if delay > r.policy.MaxDelay {
		delay = r.policy.MaxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
