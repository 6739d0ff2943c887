package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig controls the backoff schedule. A zero value is not usable
// directly — use DefaultRetryConfig and override fields.
type RetryConfig struct {
	// MaxAttempts bounds how many times fn is called. -1 means unlimited
	// (the loop still exits promptly on ctx cancellation).
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// Jitter is a fraction in [0,1]; each delay is scaled by a uniform
	// random factor in [1-Jitter, 1+Jitter]. 0 disables jitter.
	Jitter float64
}

// DefaultRetryConfig mirrors the connection core's own reconnect defaults:
// start at 1s, double each attempt, cap at 30s, +/-25% jitter, unlimited
// attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    -1,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Jitter:         0.25,
	}
}

// Retry calls fn until it returns nil, ctx is done, or MaxAttempts is
// exhausted. It returns the last error fn returned, or ctx.Err() if the
// context was the reason it stopped.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	delay := cfg.InitialBackoff
	var lastErr error

	for attempt := 1; cfg.MaxAttempts < 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if cfg.MaxAttempts > 0 && attempt == cfg.MaxAttempts {
			return lastErr
		}

		wait := applyJitter(delay, cfg.Jitter)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxBackoff {
			delay = cfg.MaxBackoff
		}
	}

	return lastErr
}

func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	factor := 1 - jitter + rand.Float64()*2*jitter
	return time.Duration(float64(d) * factor)
}
