package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream unavailable")

func tripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", Settings{
		MaxRequests: 1,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: tripAfter(3),
	})

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return errUpstream })
		require.ErrorIs(t, err, errUpstream)
	}
	assert.Equal(t, StateOpen, b.State())

	// Open circuit fails fast without invoking the request.
	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := New("test", Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Millisecond,
		ReadyToTrip: tripAfter(1),
	})

	require.Error(t, b.Execute(func() error { return errUpstream }))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("test", Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Millisecond,
		ReadyToTrip: tripAfter(1),
	})

	require.Error(t, b.Execute(func() error { return errUpstream }))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.Error(t, b.Execute(func() error { return errUpstream }))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := New("test", Settings{
		MaxRequests: 1,
		ReadyToTrip: tripAfter(2),
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Execute(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, b.State())

	// A single failure among successes does not trip.
	require.Error(t, b.Execute(func() error { return errUpstream }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []State
	b := New("test", Settings{
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: tripAfter(1),
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, to)
		},
	})

	require.Error(t, b.Execute(func() error { return errUpstream }))
	require.Len(t, transitions, 1)
	assert.Equal(t, StateOpen, transitions[0])
}
