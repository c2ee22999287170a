package apply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_SucceedsAfterFailure(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_GivesUp(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 2}
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("permanent")
	})
	assert.EqualError(t, err, "permanent")
	assert.Equal(t, 2, calls)
}

func TestRetry_NonRetryable(t *testing.T) {
	retryable := errors.New("busy")
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, RetryableErrors: []error{retryable}}
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("fatal")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, RollbackRetryConfig(), func() error { calls++; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestCalculateDelay(t *testing.T) {
	cfg := RollbackRetryConfig()
	assert.Equal(t, 500*time.Millisecond, calculateDelay(0, cfg))
	assert.Equal(t, time.Second, calculateDelay(1, cfg))
	assert.Equal(t, 2*time.Second, calculateDelay(2, cfg))
	assert.Equal(t, 2*time.Second, calculateDelay(5, cfg), "capped at MaxDelay")
}

func TestDiff(t *testing.T) {
	assert.Empty(t, Diff([]byte("a\n"), []byte("a\n"), "old", "new"))

	d := Diff([]byte("a\nb\n"), []byte("a\nc\n"), "old", "new")
	assert.Contains(t, d, "--- old")
	assert.Contains(t, d, "+++ new")
	assert.Contains(t, d, "-b")
	assert.Contains(t, d, "+c")
}
