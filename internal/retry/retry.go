// Package retry implements exponential backoff with jitter for transient
// failures against remote stores and backends.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultJitterFactor   = 0.25
)

// Config controls retry behavior. Zero values fall back to defaults.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFactor   float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterFactor:   DefaultJitterFactor,
	}
}

// normalized returns a copy of c with defaults filled in.
func (c *Config) normalized() Config {
	out := Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterFactor:   DefaultJitterFactor,
	}
	if c == nil {
		return out
	}
	if c.MaxRetries > 0 {
		out.MaxRetries = c.MaxRetries
	}
	if c.InitialBackoff > 0 {
		out.InitialBackoff = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		out.MaxBackoff = c.MaxBackoff
	}
	if c.JitterFactor > 0 {
		out.JitterFactor = math.Min(c.JitterFactor, 1)
	}
	return out
}

// Options carries optional per-call hooks.
type Options struct {
	// ShouldRetry filters errors; nil retries everything.
	ShouldRetry func(error) bool

	// OnRetry is invoked before each backoff sleep.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// Do runs fn with exponential backoff until it succeeds, the retry budget is
// spent, or ctx is done.
func Do(ctx context.Context, cfg *Config, fn func() error, opts *Options) error {
	c := cfg.normalized()

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if opts != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr) {
			return lastErr
		}

		if attempt == c.MaxRetries {
			break
		}

		backoff := Backoff(attempt, c.InitialBackoff, c.MaxBackoff, c.JitterFactor)
		if opts != nil && opts.OnRetry != nil {
			opts.OnRetry(attempt+1, lastErr, backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return lastErr
}

// Backoff returns the sleep duration for a zero-based attempt number:
// initial*2^attempt plus up to jitterFactor of random spread, capped at max.
func Backoff(attempt int, initial, max time.Duration, jitterFactor float64) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt))
	//nolint:gosec // G404: timing jitter is not security-sensitive
	backoff += backoff * jitterFactor * rand.Float64()
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(backoff)
}
