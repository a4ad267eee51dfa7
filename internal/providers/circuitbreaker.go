package providers

import (
	"sync"
	"time"
)

// CBState is one of the three states a provider's circuit breaker can be in.
type CBState int

const (
	// CBClosed lets calls through normally.
	CBClosed CBState = iota
	// CBOpen rejects calls outright; the upstream provider is considered down.
	CBOpen
	// CBHalfOpen allows a probe call through to test whether the provider recovered.
	CBHalfOpen
)

// CircuitBreaker guards a single provider against sending requests to an
// endpoint that is already failing. It moves Closed -> Open once
// failureThreshold consecutive failures accumulate, Open -> HalfOpen once
// resetTimeout has elapsed since the last failure, and HalfOpen -> Closed
// once halfOpenMax consecutive probe successes land; any HalfOpen failure
// sends it straight back to Open.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CBState
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int

	consecutiveFailures int
	halfOpenSuccesses   int
	lastFailureTime     time.Time
}

// NewCircuitBreaker builds a breaker with the given trip/reset parameters.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, halfOpenMax int) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CBClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		halfOpenMax:      halfOpenMax,
	}
}

// Allow reports whether the caller may attempt the upstream call. While
// Open, it flips to HalfOpen once resetTimeout has passed since the last
// failure and lets that one probe through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBClosed:
		return true
	case CBOpen:
		if time.Since(cb.lastFailureTime) >= cb.resetTimeout {
			cb.state = CBHalfOpen
			cb.halfOpenSuccesses = 0
			return true
		}
		return false
	case CBHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess clears the failure streak and, while HalfOpen, counts toward
// the successes needed to fully close the breaker again.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0

	if cb.state == CBHalfOpen {
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.halfOpenMax {
			cb.state = CBClosed
		}
	}
}

// RecordFailure counts a failed call. Closed trips to Open once the
// threshold is reached; a HalfOpen probe failure reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CBClosed:
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.state = CBOpen
		}
	case CBHalfOpen:
		cb.state = CBOpen
		cb.halfOpenSuccesses = 0
	}
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
