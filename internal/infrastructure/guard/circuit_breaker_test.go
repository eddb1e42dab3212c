package guard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BasicFist/tradeguard/internal/domain"
	"github.com/BasicFist/tradeguard/internal/infrastructure/guard"
)

func newTestBreaker(failMax int, resetTimeout time.Duration) *guard.CircuitBreaker {
	return guard.NewCircuitBreaker(guard.CircuitBreakerConfig{
		Name:         "test",
		FailMax:      failMax,
		ResetTimeout: resetTimeout,
	}, zap.NewNop())
}

func serverError() error {
	return &domain.StatusError{Status: 503, Body: "service unavailable"}
}

func clientError() error {
	return &domain.StatusError{Status: 400, Body: "bad request"}
}

func TestCircuitBreaker_OpensAfterFailMax(t *testing.T) {
	cb := newTestBreaker(5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := cb.Call(ctx, func(ctx context.Context) error { return serverError() })
		require.Error(t, err)
	}
	require.Equal(t, guard.StateOpen, cb.State())

	// Rejected without invoking the dependency.
	invoked := false
	err := cb.Call(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	require.False(t, invoked)
}

func TestCircuitBreaker_CallerCancellationNeverTrips(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)

	// A caller abandoning its own request must not count against the venue.
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := cb.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
		require.ErrorIs(t, err, context.Canceled)
	}
	require.Equal(t, guard.StateClosed, cb.State())
	require.Equal(t, 0, cb.GetStatus().FailCount)
}

func TestCircuitBreaker_ClientErrorsNeverTrip(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		err := cb.Call(ctx, func(ctx context.Context) error { return clientError() })
		require.Error(t, err)
	}
	require.Equal(t, guard.StateClosed, cb.State())
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := newTestBreaker(2, 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.Call(ctx, func(ctx context.Context) error { return serverError() })
	}
	require.Equal(t, guard.StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	// One successful probe closes the breaker with a clean counter.
	err := cb.Call(ctx, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, guard.StateClosed, cb.State())
	require.Equal(t, 0, cb.GetStatus().FailCount)
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := newTestBreaker(2, 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.Call(ctx, func(ctx context.Context) error { return serverError() })
	}
	time.Sleep(60 * time.Millisecond)

	cb.Call(ctx, func(ctx context.Context) error { return serverError() })
	require.Equal(t, guard.StateOpen, cb.State())

	// Reset-timeout clock restarted: still rejecting straight away.
	err := cb.Call(ctx, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	cb := newTestBreaker(1, 30*time.Millisecond)
	ctx := context.Background()

	cb.Call(ctx, func(ctx context.Context) error { return serverError() })
	time.Sleep(40 * time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	go cb.Call(ctx, func(ctx context.Context) error {
		close(probeStarted)
		<-release
		return nil
	})

	<-probeStarted
	// The probe holds HALF_OPEN; a second caller must be rejected locally.
	err := cb.Call(ctx, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	close(release)
}

func TestCircuitBreaker_PanickingProbeDoesNotLatch(t *testing.T) {
	cb := newTestBreaker(1, 30*time.Millisecond)
	ctx := context.Background()

	cb.Call(ctx, func(ctx context.Context) error { return serverError() })
	require.Equal(t, guard.StateOpen, cb.State())
	time.Sleep(40 * time.Millisecond)

	// The probe panics; the panic propagates but the breaker must still
	// account for the failed probe instead of holding HALF_OPEN forever.
	require.Panics(t, func() {
		cb.Call(ctx, func(ctx context.Context) error { panic("boom") })
	})
	require.Equal(t, guard.StateOpen, cb.State())

	// After the restarted reset timeout a fresh probe is admitted and a
	// success closes the breaker.
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, cb.Call(ctx, func(ctx context.Context) error { return nil }))
	require.Equal(t, guard.StateClosed, cb.State())
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	cb.Call(ctx, func(ctx context.Context) error { return serverError() })
	cb.Call(ctx, func(ctx context.Context) error { return serverError() })
	cb.Call(ctx, func(ctx context.Context) error { return nil })
	require.Equal(t, 0, cb.GetStatus().FailCount)

	// Two more failures after the reset should not trip a failMax=3 breaker.
	cb.Call(ctx, func(ctx context.Context) error { return serverError() })
	cb.Call(ctx, func(ctx context.Context) error { return serverError() })
	require.Equal(t, guard.StateClosed, cb.State())
}

func TestCircuitBreaker_AdminReset(t *testing.T) {
	cb := newTestBreaker(1, time.Hour)
	ctx := context.Background()

	cb.Call(ctx, func(ctx context.Context) error { return errors.New("connection refused") })
	require.Equal(t, guard.StateOpen, cb.State())

	cb.Reset()
	require.Equal(t, guard.StateClosed, cb.State())
	require.NoError(t, cb.Call(ctx, func(ctx context.Context) error { return nil }))
}
