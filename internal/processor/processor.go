// Copyright 2025 James Ross
//
// Package processor implements the Job Processor: it pulls job-reference
// messages off a queue, re-fetches the authoritative Job from the
// scheduler, and invokes the handler registered for the job's type,
// guarded by a per-type circuit breaker. It never holds job state of its
// own — the scheduler remains the single source of truth.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jamesross/polyqueue/internal/breaker"
	"github.com/jamesross/polyqueue/internal/manager"
	"github.com/jamesross/polyqueue/internal/obs"
	"github.com/jamesross/polyqueue/internal/queue"
	"github.com/jamesross/polyqueue/internal/scheduler"
	"go.uber.org/zap"
)

// Handler executes a job's work and returns its result.
type Handler func(ctx context.Context, job queue.Job) (interface{}, error)

// Processor dequeues and runs jobs for every registered job type.
type Processor struct {
	log      *zap.Logger
	mgr      *manager.Manager
	sched    *scheduler.Scheduler
	breakers *breaker.Registry
	sem      chan struct{}

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New returns a ready-to-use Processor. maxConcurrentJobs bounds how many
// handler invocations may run at once; a ProcessOne call beyond that bound
// returns ErrOverloaded instead of admitting the job. maxConcurrentJobs <= 0
// means unbounded.
func New(log *zap.Logger, mgr *manager.Manager, sched *scheduler.Scheduler, breakers *breaker.Registry, maxConcurrentJobs int) *Processor {
	p := &Processor{
		log:      log,
		mgr:      mgr,
		sched:    sched,
		breakers: breakers,
		handlers: make(map[string]Handler),
	}
	if maxConcurrentJobs > 0 {
		p.sem = make(chan struct{}, maxConcurrentJobs)
	}
	return p
}

// RegisterHandler binds a Handler to jobType. A later call for the same
// jobType replaces the earlier one.
func (p *Processor) RegisterHandler(jobType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = h
}

func (p *Processor) handlerFor(jobType string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[jobType]
	return h, ok
}

// ProcessOne receives a single job-reference message from queueName and
// drives it to completion, waiting up to receiveTimeout for a message to
// arrive. It reports whether a message was actually processed.
func (p *Processor) ProcessOne(ctx context.Context, jobType string, receiveTimeout time.Duration) (bool, error) {
	queueName := queue.QueueName(jobType)
	msg, err := p.mgr.Receive(ctx, queueName, receiveTimeout)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	jobID, _ := msg.Payload.(string)
	job, err := p.sched.Get(jobID)
	if err != nil {
		// The job was swept or never existed; drop the stale reference.
		_ = p.mgr.Ack(ctx, queueName, *msg)
		return true, nil
	}
	if job.Status != queue.StatusPending {
		// Duplicate delivery of a job already past Pending; drop it.
		_ = p.mgr.Ack(ctx, queueName, *msg)
		return true, nil
	}

	cb := p.breakers.For(job.Type)
	if !cb.Allow() {
		_ = p.mgr.Nack(ctx, queueName, *msg, true)
		return true, fmt.Errorf("%w: %s", ErrCircuitOpen, job.Type)
	}

	handler, ok := p.handlerFor(job.Type)
	if !ok {
		cb.Record(false)
		p.failJob(job.ID, fmt.Sprintf("%s: %s", ErrNoHandler, job.Type))
		_ = p.mgr.Ack(ctx, queueName, *msg)
		return true, fmt.Errorf("%w: %s", ErrNoHandler, job.Type)
	}

	if !p.tryAcquire() {
		_ = p.mgr.Nack(ctx, queueName, *msg, true)
		return true, fmt.Errorf("%w: %s", ErrOverloaded, job.Type)
	}
	defer p.release()

	running, err := p.sched.MarkRunning(job.ID)
	if err != nil {
		_ = p.mgr.Ack(ctx, queueName, *msg)
		return true, err
	}
	obs.JobsConsumed.Inc()

	p.run(ctx, running, handler)
	_ = p.mgr.Ack(ctx, queueName, *msg)
	return true, nil
}

// tryAcquire reserves a concurrency slot without blocking. It always
// succeeds when the Processor was built with an unbounded maxConcurrentJobs.
func (p *Processor) tryAcquire() bool {
	if p.sem == nil {
		return true
	}
	select {
	case p.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Processor) release() {
	if p.sem == nil {
		return
	}
	<-p.sem
}

func (p *Processor) run(ctx context.Context, job queue.Job, handler Handler) {
	cb := p.breakers.For(job.Type)
	runCtx := ctx
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := p.invoke(runCtx, job, handler)
	obs.JobProcessingDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		wasOpen := cb.State() == breaker.Open
		cb.Record(false)
		if !wasOpen && cb.State() == breaker.Open {
			obs.CircuitBreakerTrips.Inc()
		}
		p.failJob(job.ID, err.Error())
		return
	}
	cb.Record(true)
	if _, err := p.sched.Complete(job.ID, result); err != nil {
		p.log.Error("failed to mark job completed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	obs.JobsCompleted.Inc()
}

type invokeResult struct {
	value interface{}
	err   error
}

// invoke runs handler on its own goroutine and races it against ctx, so a
// handler that never checks ctx itself is still preempted at the deadline
// instead of blocking the processor indefinitely. The handler goroutine may
// keep running in the background after invoke returns on timeout — Go gives
// no way to force-preempt it — but its result is discarded.
func (p *Processor) invoke(ctx context.Context, job queue.Job, handler Handler) (interface{}, error) {
	done := make(chan invokeResult, 1)
	go func() {
		value, err := p.runHandler(ctx, job, handler)
		done <- invokeResult{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrTimeout, job.Type)
	}
}

// runHandler calls handler, converting a panic into an error so one
// misbehaving handler cannot take down the processor loop.
func (p *Processor) runHandler(ctx context.Context, job queue.Job, handler Handler) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *Processor) failJob(jobID, message string) {
	updated, err := p.sched.Fail(jobID, queue.JobError{Message: message, Timestamp: time.Now().UTC()})
	if err != nil {
		p.log.Error("failed to record job failure", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if updated.Status == queue.StatusRetry {
		obs.JobsRetried.Inc()
		return
	}
	obs.JobsFailed.Inc()
	obs.JobsDeadLetter.Inc()
}
