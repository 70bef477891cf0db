package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_Success(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false, // Disable for predictable tests
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil // Success on third attempt
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false,
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("persistent error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryable(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	sentinel := errors.New("bad input")
	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return NonRetryable(sentinel)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "non-retryable errors should stop immediately")
	assert.True(t, errors.Is(err, sentinel))
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		AddJitter:    false,
	}

	attempts := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("keeps failing")
	})
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
	assert.Less(t, elapsed, time.Second, "cancellation should abort backoff sleep")
}

func TestRetry_DelayGrowthCapped(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  4,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   10.0,
		AddJitter:    false,
	}

	attempts := 0
	start := time.Now()
	_ = Do(ctx, cfg, func() error {
		attempts++
		return errors.New("fail")
	})
	elapsed := time.Since(start)

	assert.Equal(t, 4, attempts)
	// 5ms + 10ms + 10ms of sleeps; generous upper bound for CI jitter
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRetry_InvalidConfig(t *testing.T) {
	ctx := context.Background()

	err := Do(ctx, Config{InitialDelay: -1}, func() error { return nil })
	assert.Error(t, err)

	err = Do(ctx, Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	assert.Error(t, err)
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := Do(ctx, Config{}, func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoWithResult(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	result, err := DoWithResult(ctx, cfg, func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("not yet")
		}
		return "ready", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "ready", result)
	assert.Equal(t, 2, attempts)
}
