package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	cfg := DefaultBackoffConfig()
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 2 * time.Millisecond

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	cfg := DefaultBackoffConfig()
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 2 * time.Millisecond
	cfg.MaxAttempts = 3

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return fmt.Errorf("always fails")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	cfg := DefaultBackoffConfig()
	cfg.InitialInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return fmt.Errorf("fails")
	})
	require.Error(t, err)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, OpenDuration: time.Minute})
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenDuration: time.Second})
	cb.nowFn = func() time.Time { return now }

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Allow()) // transitions to half-open, allows trial
	cb.RecordSuccess()
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenDuration: time.Second})
	cb.nowFn = func() time.Time { return now }

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
}
