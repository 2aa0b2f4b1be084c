// Copyright 2025 James Ross
//
// Package breaker implements a per-job-type circuit breaker guarding the Job
// Processor against a failing handler: once failureThreshold consecutive
// failures accumulate, the breaker opens and rejects further attempts until
// resetTimeout elapses, at which point a single probe is let through.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards a single job type's handler. Allow/Record/State are
// safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	resetTimeout     time.Duration
	disabled         bool

	state            State
	consecutiveFails int
	lastFailure      time.Time
	halfOpenInFlight bool
}

// New returns a CircuitBreaker that opens after failureThreshold consecutive
// failures and attempts recovery resetTimeout after the most recent failure.
func New(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            Closed,
	}
}

// Disable turns the breaker into an always-allow pass-through, for job
// types that opt out of breaker protection.
func (cb *CircuitBreaker) Disable() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.disabled = true
}

// State reports the breaker's current state without mutating it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether the caller may attempt the protected operation. When
// Open and resetTimeout has elapsed since the last failure, Allow transitions
// to HalfOpen and lets exactly one probe through; concurrent callers during
// HalfOpen are rejected until that probe's Record call lands.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.disabled {
		return true
	}

	switch cb.state {
	case Open:
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return false
		}
		cb.state = HalfOpen
		cb.halfOpenInFlight = true
		return true
	case HalfOpen:
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	default:
		return true
	}
}

// Record reports the outcome of an operation Allow just admitted. A success
// resets the failure count and, from HalfOpen, closes the breaker. A failure
// increments the count and, from Closed, opens the breaker once
// failureThreshold is reached; from HalfOpen any failure reopens it
// immediately.
func (cb *CircuitBreaker) Record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.disabled {
		return
	}

	if ok {
		cb.consecutiveFails = 0
		cb.halfOpenInFlight = false
		if cb.state != Closed {
			cb.state = Closed
		}
		return
	}

	cb.consecutiveFails++
	cb.lastFailure = time.Now()
	cb.halfOpenInFlight = false

	switch cb.state {
	case HalfOpen:
		cb.state = Open
	case Closed:
		if cb.consecutiveFails >= cb.failureThreshold {
			cb.state = Open
		}
	case Open:
		// already open; lastFailure refresh above extends the cooldown.
	}
}
