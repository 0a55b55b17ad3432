package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// RetryConfig tunes the exponential backoff between attempts.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`     // default 3
	InitialInterval time.Duration `yaml:"initial_interval"` // default 200ms
	MaxInterval     time.Duration `yaml:"max_interval"`     // default 5s
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 200 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	return c
}

// Retry runs fn up to MaxAttempts times with exponential backoff and
// jitter. Non-retryable errors stop immediately. Quota errors honour the
// server-indicated delay before the next attempt. Retry is meant to run
// inside a single breaker call, so an exhausted retry counts as one
// breaker failure.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	// RandomizationFactor keeps its default so concurrent retries spread out.

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1)), ctx)

	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errs.Retryable(err) {
			return backoff.Permanent(err)
		}
		if wait := errs.RetryAfterOf(err); wait > 0 {
			if !sleepCtx(ctx, wait) {
				return backoff.Permanent(err)
			}
		}
		return err
	}
	err := backoff.Retry(op, policy)
	// backoff.Permanent wrapping is unwrapped by Retry itself; the caller
	// sees the original typed error.
	return err
}

// sleepCtx waits for d or until ctx is done; reports false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
