// Copyright 2025 James Ross
//
// Package scheduler is the single authoritative store of Job state. It owns
// the full lifecycle — Pending, Running, Completed, Failed, Cancelled,
// Retry — and the retry timers that move a Retry job back to Pending after
// its backoff delay. Nothing else in this module keeps a parallel job
// table: the Queue Manager's job-facing operations all delegate here.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/jamesross/polyqueue/internal/eventbus"
	"github.com/jamesross/polyqueue/internal/queue"
	"go.uber.org/zap"
)

// Event names published on the shared Bus.
const (
	EventSubmitted     = "job.submitted"
	EventStarted       = "job.started"
	EventCompleted     = "job.completed"
	EventFailed        = "job.failed"
	EventRetryScheduled = "job.retry_scheduled"
	EventRetryReady    = "job.retry_ready"
	EventCancelled     = "job.cancelled"
)

// Config controls the defaults new jobs take when their JobOptions leave a
// field unset.
type Config struct {
	DefaultMaxRetries  int
	DefaultRetryDelay  time.Duration
	MaxRetryDelay      time.Duration
	ExponentialBackoff bool
}

// Scheduler is the Job Scheduler: it stores every known Job, drives its
// state machine, and manages retry timers. Safe for concurrent use.
type Scheduler struct {
	cfg Config
	log *zap.Logger
	bus *eventbus.Bus

	mu      sync.RWMutex
	jobs    map[string]queue.Job
	timers  map[string]*time.Timer // keyed by job ID, only while Retry is pending
}

// New returns a ready-to-use Scheduler.
func New(cfg Config, log *zap.Logger, bus *eventbus.Bus) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		jobs:   make(map[string]queue.Job),
		timers: make(map[string]*time.Timer),
	}
}

// Submit validates and stores a new job, always Pending at this point. The
// caller (Queue Manager) is responsible for handing the job off to a
// Provider afterward.
func (s *Scheduler) Submit(jobType string, data interface{}, opts queue.JobOptions) (queue.Job, error) {
	job := queue.NewJob(jobType, data, opts, s.cfg.DefaultMaxRetries, s.cfg.DefaultRetryDelay)
	if err := queue.ValidateJob(job); err != nil {
		return queue.Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.publish(EventSubmitted, job)
	return job, nil
}

// Get returns a copy of the job's current state.
func (s *Scheduler) Get(jobID string) (queue.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return queue.Job{}, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns a copy of every known job, optionally filtered by status
// when nonEmpty is passed.
func (s *Scheduler) List(status queue.Status) []queue.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]queue.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j.Clone())
	}
	return out
}

// MarkRunning transitions a Pending job to Running. It fails if the job is
// not currently Pending — a Processor racing another Processor for the
// same job, or retrying an already-dispatched job, is a bug upstream.
func (s *Scheduler) MarkRunning(jobID string) (queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return queue.Job{}, ErrJobNotFound
	}
	if job.Status != queue.StatusPending {
		return queue.Job{}, ErrJobNotPending
	}

	now := time.Now().UTC()
	job.Status = queue.StatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	s.jobs[jobID] = job

	s.publishLocked(EventStarted, job)
	return job.Clone(), nil
}

// Complete transitions a Running job to Completed, recording result.
func (s *Scheduler) Complete(jobID string, result interface{}) (queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return queue.Job{}, ErrJobNotFound
	}
	if job.Status != queue.StatusRunning {
		return queue.Job{}, ErrJobNotRunning
	}

	now := time.Now().UTC()
	job.Status = queue.StatusCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now
	job.Result = result
	s.jobs[jobID] = job

	s.publishLocked(EventCompleted, job)
	return job.Clone(), nil
}

// Fail transitions a Running job to either Retry (scheduling a timer to
// re-enqueue it after a backoff delay) or the terminal Failed state, based
// on whether RetryCount has reached MaxRetries.
func (s *Scheduler) Fail(jobID string, jobErr queue.JobError) (queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return queue.Job{}, ErrJobNotFound
	}
	if job.Status != queue.StatusRunning {
		return queue.Job{}, ErrJobNotRunning
	}

	now := time.Now().UTC()
	job.LastError = &jobErr
	job.UpdatedAt = now

	if job.RetryCount >= job.MaxRetries {
		job.Status = queue.StatusFailed
		job.FailedAt = &now
		s.jobs[jobID] = job
		s.publishLocked(EventFailed, job)
		return job.Clone(), nil
	}

	job.RetryCount++
	job.Status = queue.StatusRetry
	s.jobs[jobID] = job

	delay := queue.NextRetryDelay(job.RetryCount-1, job.RetryDelay, s.cfg.MaxRetryDelay, s.cfg.ExponentialBackoff)
	s.scheduleRetryLocked(job.ID, delay)
	s.publishLocked(EventRetryScheduled, job)
	return job.Clone(), nil
}

// scheduleRetryLocked arms a timer that flips the job back to Pending and
// publishes EventRetryReady so the Queue Manager re-enqueues it. Must be
// called with s.mu held.
func (s *Scheduler) scheduleRetryLocked(jobID string, delay time.Duration) {
	s.timers[jobID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		job, ok := s.jobs[jobID]
		if !ok || job.Status != queue.StatusRetry {
			s.mu.Unlock()
			return
		}
		job.Status = queue.StatusPending
		job.UpdatedAt = time.Now().UTC()
		s.jobs[jobID] = job
		delete(s.timers, jobID)
		s.mu.Unlock()

		s.publish(EventRetryReady, job)
	})
}

// Cancel transitions a Pending or Retry job to Cancelled, revoking any
// armed retry timer. It refuses jobs that are Running: only the processor
// handling a job may cancel it, via CancelRunning.
func (s *Scheduler) Cancel(jobID string) (queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return queue.Job{}, ErrJobNotFound
	}
	if job.Status == queue.StatusRunning {
		return queue.Job{}, ErrJobRunning
	}
	if job.Status.Terminal() {
		return queue.Job{}, ErrJobTerminal
	}

	return s.cancelLocked(job)
}

// CancelRunning transitions a Running job to Cancelled. It is the processor's
// hook for aborting a job it is actively executing and is not exposed on the
// externally-reachable cancel path.
func (s *Scheduler) CancelRunning(jobID string) (queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return queue.Job{}, ErrJobNotFound
	}
	if job.Status != queue.StatusRunning {
		return queue.Job{}, ErrJobNotRunning
	}

	return s.cancelLocked(job)
}

// cancelLocked performs the Cancelled transition shared by Cancel and
// CancelRunning. Callers must hold s.mu.
func (s *Scheduler) cancelLocked(job queue.Job) (queue.Job, error) {
	if t, ok := s.timers[job.ID]; ok {
		t.Stop()
		delete(s.timers, job.ID)
	}

	now := time.Now().UTC()
	job.Status = queue.StatusCancelled
	job.CancelledAt = &now
	job.UpdatedAt = now
	s.jobs[job.ID] = job

	s.publishLocked(EventCancelled, job)
	return job.Clone(), nil
}

// Stats summarizes job counts by status, for admin inspection and metrics.
type Stats struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	Retry     int
}

// Stats computes a current snapshot over every known job.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	for _, j := range s.jobs {
		switch j.Status {
		case queue.StatusPending:
			st.Pending++
		case queue.StatusRunning:
			st.Running++
		case queue.StatusCompleted:
			st.Completed++
		case queue.StatusFailed:
			st.Failed++
		case queue.StatusCancelled:
			st.Cancelled++
		case queue.StatusRetry:
			st.Retry++
		}
	}
	return st
}

// Sweep removes terminal jobs older than olderThan from the in-memory
// table, bounding memory growth for long-running processes.
func (s *Scheduler) Sweep(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// ReapStale finds every Running job whose StartedAt is older than
// maxRunning — evidence its worker died mid-processing without ever
// calling Complete or Fail — and routes it through the normal failure
// path (retry if budget remains, else terminal Failed). It returns the
// IDs reaped, for callers that want to log or count them.
func (s *Scheduler) ReapStale(maxRunning time.Duration) []string {
	cutoff := time.Now().Add(-maxRunning)

	s.mu.RLock()
	var stale []string
	for id, j := range s.jobs {
		if j.Status == queue.StatusRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		_, _ = s.Fail(id, queue.JobError{
			Message:   "reaped: worker did not report completion within the running deadline",
			Timestamp: time.Now().UTC(),
		})
	}
	return stale
}

func (s *Scheduler) publish(event string, job queue.Job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Name: event, Data: job.Clone()})
}

// publishLocked is for call sites already holding s.mu; Publish on the bus
// never calls back into the Scheduler so this is safe.
func (s *Scheduler) publishLocked(event string, job queue.Job) {
	s.publish(event, job)
}
