package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, OpenTimeout: time.Hour})

	require.True(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, Closed, cb.State())
	cb.RecordFailure()

	assert.Equal(t, Open, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: 10 * time.Millisecond})

	cb.RecordFailure()
	assert.Equal(t, Open, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(20 * time.Millisecond)

	assert.True(t, cb.Allow())
	assert.Equal(t, HalfOpen, cb.State())
}

func TestCircuitBreakerClosesAfterSuccessThresholdInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Nanosecond})

	cb.RecordFailure()
	require.True(t, cb.Allow()) // transitions to HalfOpen
	require.Equal(t, HalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, HalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Nanosecond})

	cb.RecordFailure()
	require.True(t, cb.Allow())
	require.Equal(t, HalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, Open, cb.State())
}

func TestCircuitBreakerOnTransitionFires(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Nanosecond})

	var transitions []CircuitState
	cb.OnTransition(func(s CircuitState) { transitions = append(transitions, s) })

	cb.RecordFailure()
	require.True(t, cb.Allow())

	require.Len(t, transitions, 2)
	assert.Equal(t, Open, transitions[0])
	assert.Equal(t, HalfOpen, transitions[1])
}

func TestIsFailureStatusDefaults(t *testing.T) {
	assert.True(t, IsFailureStatus(503, nil))
	assert.False(t, IsFailureStatus(200, nil))
	assert.True(t, IsFailureStatus(429, map[int]bool{429: true}))
}
