package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// DefaultBreakerThreshold is the number of consecutive network failures
// before the circuit opens.
const DefaultBreakerThreshold = 5

// DefaultBreakerCooldown is how long the circuit stays open before
// transitioning to half-open.
const DefaultBreakerCooldown = 30 * time.Second

// ErrCircuitOpen is returned while the API is considered offline.
var ErrCircuitOpen = errors.New("circuit open: API offline")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state - requests are allowed.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the API is unreachable - requests fail fast.
	CircuitOpen
	// CircuitHalfOpen means the cooldown expired - one probe request is allowed.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker counts consecutive transport failures against the API.
type CircuitBreaker struct {
	mu           sync.Mutex
	threshold    int
	cooldown     time.Duration
	failureCount int
	state        CircuitState
	openedAt     time.Time
	probing      bool
	now          func() time.Time
}

// NewCircuitBreaker creates a new CircuitBreaker with the given threshold and cooldown.
// Non-positive values fall back to the defaults.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     CircuitClosed,
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// Allow reports whether a request may proceed. In half-open state only one
// probe is admitted until it is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		// Check if cooldown has elapsed → transition to half-open
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		return true
	case CircuitHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

// RecordSuccess records a request that reached the server, closing the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.state = CircuitClosed
	cb.probing = false
}

// RecordFailure records a transport failure.
// If the failure count reaches the threshold, or a half-open probe fails, the circuit opens.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.probing = false
	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// Release ends an admitted request that neither succeeded nor failed,
// such as one cancelled by its caller.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// FailureCount returns the current consecutive failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
