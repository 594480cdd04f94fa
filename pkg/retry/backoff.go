package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Config defines retry behavior
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig returns the gateway schedule: three attempts total with
// backoff delays of 1s, 2s, 4s between them.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}
}

// ConnectConfig returns a more patient schedule used for backend
// connections at startup (store, redis).
func ConnectConfig() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the backoff delay after the given 1-based attempt.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// WithBackoff executes fn with exponential backoff until it succeeds,
// attempts are exhausted, or ctx is done.
func WithBackoff(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func() error) error {
	return WithBackoffIf(ctx, cfg, logger, operation, fn, func(error) bool { return true })
}

// WithBackoffIf is WithBackoff with a retryability predicate; a
// non-retryable error surfaces immediately.
func WithBackoffIf(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func() error, retryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("Operation succeeded after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return nil
		}

		if !retryable(lastErr) {
			return lastErr
		}

		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
		}

		delay := cfg.Delay(attempt)

		logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("retry_in", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return lastErr
}
