// Package retry implements exponential backoff with jitter for transient
// upstream failures, primarily secondary rate limits on the GitHub API.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, +/- fraction of the delay
}

// DefaultConfig returns the backoff settings used for throttled API calls:
// 3 retries starting at 1s, doubling, capped at 5 minutes, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// RetryableError lets errors declare whether another attempt is worthwhile.
// Errors that do not implement it are treated as permanent.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable reports whether err declares itself transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	r, ok := err.(RetryableError)
	return ok && r.IsRetryable()
}

// DelayHinter lets errors carry a server-mandated minimum wait, such as a
// Retry-After header. The hint only ever lengthens a wait.
type DelayHinter interface {
	error
	RetryDelay() time.Duration
}

// waitFor returns the backoff wait for err, stretched to the server's hint
// when the error carries one.
func waitFor(err error, delay time.Duration, jitterFactor float64) time.Duration {
	wait := applyJitter(delay, jitterFactor)
	var hinted DelayHinter
	if errors.As(err, &hinted) && hinted.RetryDelay() > wait {
		wait = hinted.RetryDelay()
	}
	return wait
}

// applyJitter spreads a delay by +/- delay*jitterFactor to avoid retry storms.
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// Do executes fn with exponential backoff, retrying only while the returned
// error reports itself retryable. The context cancels pending waits.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(waitFor(err, delay, cfg.JitterFactor)):
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

// DoWithResult is Do for functions that return a value alongside the error.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		r, err := fn()
		if err == nil {
			result = r
		}
		return err
	})
	return result, err
}
