package providers

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig controls exponential backoff for transient provider failures.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // first backoff delay
	Factor      float64       // multiplier per attempt
	Jitter      float64       // symmetric jitter fraction, e.g. 0.2 = ±20%
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		Factor:      2,
		Jitter:      0.2,
	}
}

// Retry runs fn until it succeeds, fails hard, or attempts are exhausted.
// Only transient errors are retried; a rate-limit RetryAfter hint overrides
// the computed backoff.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	delay := cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == cfg.MaxAttempts {
			return zero, err
		}

		wait := delay
		var pe *Error
		if errors.As(err, &pe) && pe.RetryAfter > 0 {
			wait = pe.RetryAfter
		}
		if cfg.Jitter > 0 {
			spread := 1 + cfg.Jitter*(2*rand.Float64()-1)
			wait = time.Duration(float64(wait) * spread)
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay = time.Duration(float64(delay) * cfg.Factor)
	}
	return zero, lastErr
}
