package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls exponential backoff. Zero values take defaults.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// BootRetryConfig is used for connecting to Redis, Postgres and Kafka at
// process start, when dependencies started by the same compose file may still
// be coming up.
func BootRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  8,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, ctx is done,
// or MaxAttempts is reached. The last error is wrapped in the result.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	defaults := defaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = defaults.Multiplier
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = defaults.JitterFraction
	}
	logger := slog.Default().With("component", "retry", "operation", name)
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("%s: %w", name, perm.err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay := computeDelay(attempt, cfg)
		logger.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"error", lastErr,
			"next_delay", delay,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
	}
	return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, name, lastErr)
}

func computeDelay(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	backoff += backoff * cfg.JitterFraction * (2*rand.Float64() - 1)
	if backoff > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	if backoff < 0 {
		return cfg.InitialDelay
	}
	return time.Duration(backoff)
}
