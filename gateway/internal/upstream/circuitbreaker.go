package upstream

import (
	"sync"
	"time"
)

// CircuitState is the breaker's state machine (§4.4).
type CircuitState int

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig configures the transition thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

// DefaultRetryableStatuses is the default failure status set (§4.4).
var DefaultRetryableStatuses = map[int]bool{502: true, 503: true, 504: true}

// CircuitBreaker is a per-cluster (or per-instance) state machine that
// fails fast when an upstream is unhealthy. State is protected by a
// short critical section, per the "no component holds more than one
// lock at a time" deadlock-freedom rule (§5).
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	consecutiveFail int
	consecutiveSucc int
	openedAt        time.Time

	onTransition func(CircuitState)
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: Closed}
}

// OnTransition registers fn to be called, with the new state,
// whenever the breaker changes state. Intended for metrics
// instrumentation; at most one observer is supported since the
// gateway only ever wires one metrics collaborator per breaker.
func (cb *CircuitBreaker) OnTransition(fn func(CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTransition = fn
}

func (cb *CircuitBreaker) transitionTo(s CircuitState) {
	cb.state = s
	if cb.onTransition != nil {
		cb.onTransition(s)
	}
}

// Allow reports whether a request may proceed. It performs the
// Open -> HalfOpen transition as a side effect when the timeout has
// elapsed, so the caller that observes Allow()==true in HalfOpen is
// the admitted probe request (§4.4).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if time.Since(cb.openedAt) >= cb.cfg.OpenTimeout {
			cb.transitionTo(HalfOpen)
			cb.consecutiveSucc = 0
			cb.consecutiveFail = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RecordSuccess advances the breaker on a successful outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.consecutiveFail = 0
	case HalfOpen:
		cb.consecutiveSucc++
		if cb.consecutiveSucc >= cb.cfg.SuccessThreshold {
			cb.transitionTo(Closed)
			cb.consecutiveSucc = 0
			cb.consecutiveFail = 0
		}
	}
}

// RecordFailure advances the breaker on a failed outcome: connection
// error, timeout, or a status in the retryable set.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.cfg.FailureThreshold {
			cb.transitionTo(Open)
			cb.openedAt = time.Now()
			cb.consecutiveFail = 0
		}
	case HalfOpen:
		cb.transitionTo(Open)
		cb.openedAt = time.Now()
		cb.consecutiveSucc = 0
		cb.consecutiveFail = 0
	}
}

// IsFailureStatus reports whether status belongs to the retryable
// status set and should therefore be recorded as a circuit-breaker
// failure.
func IsFailureStatus(status int, retryable map[int]bool) bool {
	if retryable == nil {
		retryable = DefaultRetryableStatuses
	}
	return retryable[status]
}
