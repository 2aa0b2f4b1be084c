// Copyright 2025 James Ross
package manager

import (
	"context"

	"github.com/jamesross/polyqueue/internal/provider"
	"github.com/jamesross/polyqueue/internal/scheduler"
)

// Stats summarizes the overall system for admin inspection: job counts from
// the scheduler, provider health, and per-queue depth.
type Stats struct {
	Jobs      scheduler.Stats                 `json:"jobs"`
	Providers map[string]provider.HealthStatus `json:"providers"`
	Queues    map[string]int64                 `json:"queues"`
}

// GetStats gathers a fresh snapshot across the scheduler and every provider.
func (m *Manager) GetStats(ctx context.Context) Stats {
	st := Stats{
		Jobs:      m.scheduler.Stats(),
		Providers: m.providers.HealthCheck(ctx),
		Queues:    make(map[string]int64),
	}
	for _, d := range m.Queues() {
		info, err := m.GetQueueInfo(ctx, d.Name)
		if err != nil {
			continue
		}
		st.Queues[d.Name] = info.Length
	}
	return st
}
