// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/jamesross/polyqueue/internal/breaker"
)

// stateValue maps a breaker.State to the numeric value CircuitBreakerState
// exposes (0 Closed, 1 HalfOpen, 2 Open).
func stateValue(s breaker.State) float64 {
	switch s {
	case breaker.HalfOpen:
		return 1
	case breaker.Open:
		return 2
	default:
		return 0
	}
}

// SampleBreakerStates periodically snapshots every known job type's circuit
// breaker state into CircuitBreakerState. Since the gauge carries no label,
// it reflects the worst (most-open) state across all job types, so a single
// tripped breaker is never masked by others staying closed.
func SampleBreakerStates(ctx context.Context, reg *breaker.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			worst := 0.0
			for _, state := range reg.States() {
				if v := stateValue(state); v > worst {
					worst = v
				}
			}
			CircuitBreakerState.Set(worst)
		}
	}
}
