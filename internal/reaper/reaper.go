// Copyright 2025 James Ross
//
// Package reaper periodically recovers jobs left stuck in Running because
// the worker processing them crashed or was killed before it could call
// Complete or Fail. Unlike a Redis-specific scan over per-worker processing
// lists, this works directly against the Scheduler's own job table, which
// is the single place Running state is recorded regardless of provider.
package reaper

import (
	"context"
	"time"

	"github.com/jamesross/polyqueue/internal/obs"
	"github.com/jamesross/polyqueue/internal/scheduler"
	"go.uber.org/zap"
)

// Reaper drives periodic ReapStale sweeps against a Scheduler.
type Reaper struct {
	sched      *scheduler.Scheduler
	log        *zap.Logger
	interval   time.Duration
	maxRunning time.Duration
}

// New returns a Reaper that sweeps every interval for jobs Running longer
// than maxRunning.
func New(sched *scheduler.Scheduler, log *zap.Logger, interval, maxRunning time.Duration) *Reaper {
	return &Reaper{sched: sched, log: log, interval: interval, maxRunning: maxRunning}
}

// Run blocks, sweeping on a ticker until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Reaper) sweepOnce() {
	reaped := r.sched.ReapStale(r.maxRunning)
	for _, id := range reaped {
		obs.ReaperRecovered.Inc()
		r.log.Warn("reaped stale running job", zap.String("job_id", id))
	}
}
