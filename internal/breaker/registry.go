// Copyright 2025 James Ross
package breaker

import (
	"sync"
	"time"
)

// Registry hands out one CircuitBreaker per job type, creating it lazily on
// first use with the registry's configured thresholds.
type Registry struct {
	failureThreshold int
	resetTimeout     time.Duration

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry returns a Registry whose breakers all share failureThreshold
// and resetTimeout.
func NewRegistry(failureThreshold int, resetTimeout time.Duration) *Registry {
	return &Registry{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		breakers:         make(map[string]*CircuitBreaker),
	}
}

// For returns the CircuitBreaker for jobType, creating it if this is the
// first time jobType has been seen.
func (r *Registry) For(jobType string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[jobType]
	if !ok {
		cb = New(r.failureThreshold, r.resetTimeout)
		r.breakers[jobType] = cb
	}
	return cb
}

// States returns a snapshot of every known job type's current breaker
// state, for admin inspection and metrics.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.breakers))
	for jobType, cb := range r.breakers {
		out[jobType] = cb.State()
	}
	return out
}
