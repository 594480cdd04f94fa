package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefaultConfig_Schedule(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 3, cfg.MaxAttempts)

	delays := []time.Duration{cfg.Delay(1), cfg.Delay(2), cfg.Delay(3)}
	assert.Equal(t, 1*time.Second, delays[0])
	assert.Equal(t, 2*time.Second, delays[1])
	assert.Equal(t, 4*time.Second, delays[2])

	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1], "backoff must strictly increase")
	}
}

func TestDelay_CappedAtMax(t *testing.T) {
	cfg := Config{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: 4 * time.Second, Multiplier: 2.0}
	assert.Equal(t, 4*time.Second, cfg.Delay(5))
	assert.Equal(t, 4*time.Second, cfg.Delay(9))
}

func TestWithBackoff_SucceedsAfterFailures(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
	logger := zaptest.NewLogger(t)

	calls := 0
	err := WithBackoff(context.Background(), cfg, logger, "flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoff_ExhaustsAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
	logger := zaptest.NewLogger(t)

	calls := 0
	theErr := errors.New("still broken")
	err := WithBackoff(context.Background(), cfg, logger, "broken", func() error {
		calls++
		return theErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, theErr)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffIf_NonRetryableSurfacesImmediately(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
	logger := zaptest.NewLogger(t)

	calls := 0
	fatal := errors.New("fatal")
	err := WithBackoffIf(context.Background(), cfg, logger, "fatal_op", func() error {
		calls++
		return fatal
	}, func(err error) bool { return !errors.Is(err, fatal) })

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls, "non-retryable errors get exactly one attempt")
}

func TestWithBackoff_CancelledContext(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}
	logger := zaptest.NewLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := WithBackoff(ctx, cfg, logger, "cancelled_op", func() error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 2)
}
