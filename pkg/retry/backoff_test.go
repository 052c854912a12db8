package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateBackoffDuration_DoublesPerAttempt(t *testing.T) {
	base := 1 * time.Second
	max := 60 * time.Second

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}

	for attempt, want := range expected {
		got := CalculateBackoffDuration(attempt, base, 2.0, max)
		assert.Equal(t, want, got, "attempt %d", attempt)
	}
}

func TestCalculateBackoffDuration_CapsAtMax(t *testing.T) {
	got := CalculateBackoffDuration(20, 1*time.Second, 2.0, 60*time.Second)
	assert.Equal(t, 60*time.Second, got)
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	policy := Policy{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}

	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnFatalError(t *testing.T) {
	policy := Policy{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}

	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return NewFatalError(errors.New("broken payload"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttemptCap(t *testing.T) {
	policy := Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}

	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return errors.New("still failing")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithCallback_ReportsEachRetry(t *testing.T) {
	policy := Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}

	var attempts []int
	err := RetryWithCallback(context.Background(), policy, func() error {
		return errors.New("nope")
	}, func(attempt int, err error, nextDelay time.Duration) {
		attempts = append(attempts, attempt)
		assert.Error(t, err)
		assert.Positive(t, nextDelay)
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}
