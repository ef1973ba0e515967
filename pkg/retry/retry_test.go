package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/errors"
)

func fast(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.WrapTransient(errors.ErrNoConnection, "test", "op", "dial")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(3), func() error {
		attempts++
		return stderrors.New("unclassified")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"wrapped", NonRetryable(stderrors.New("bad credentials"))},
		{"invalid", errors.WrapInvalid(errors.ErrInvalidData, "test", "op", "parse")},
		{"fatal", errors.WrapFatal(errors.ErrInvalidConfig, "test", "op", "load")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Do(context.Background(), fast(5), func() error {
				attempts++
				return tt.err
			})
			assert.Equal(t, 1, attempts)
			assert.Equal(t, tt.err, err)
		})
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return stderrors.New("down")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 5)
}

func TestDo_OnRetryAndBackoff(t *testing.T) {
	var delays []time.Duration
	cfg := fast(4)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		assert.Error(t, err)
		assert.Equal(t, len(delays)+1, attempt)
		delays = append(delays, delay)
	}

	_ = Do(context.Background(), cfg, func() error { return stderrors.New("down") })
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestDo_InvalidConfig(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: -1}, func() error { return nil })
	assert.Error(t, err)

	err = Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	assert.Error(t, err)
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	v, err := DoWithResult(context.Background(), fast(3), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", stderrors.New("down")
		}
		return "bucket", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "bucket", v)
}

func TestPresets(t *testing.T) {
	for name, cfg := range map[string]Config{
		"default":      DefaultConfig(),
		"connect":      Connect(),
		"registration": Registration(),
	} {
		_, err := cfg.normalized()
		assert.NoError(t, err, name)
		assert.Greater(t, cfg.MaxAttempts, 1, name)
	}
}
