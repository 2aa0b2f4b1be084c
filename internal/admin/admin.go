// Copyright 2025 James Ross
//
// Package admin implements operator-facing inspection and control over a
// running system: stats, queue peek/purge, job lookup/cancellation, and a
// throughput benchmark, all driven through the same Queue Manager,
// Scheduler, and breaker Registry the rest of the system uses.
package admin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jamesross/polyqueue/internal/breaker"
	"github.com/jamesross/polyqueue/internal/eventbus"
	"github.com/jamesross/polyqueue/internal/manager"
	"github.com/jamesross/polyqueue/internal/patterns"
	"github.com/jamesross/polyqueue/internal/queue"
	"github.com/jamesross/polyqueue/internal/scheduler"
	"go.uber.org/zap"
)

// Admin is the operator-facing surface over a running system. Besides
// inspection, it exposes the messaging-patterns layer for two operator
// flows: DispatchOnce drives a queue through a patterns.WorkQueue so an
// operator-run worker loop respects a capacity signal instead of bypassing
// it, and WatchJobs fans job lifecycle notifications out through a
// patterns.PubSub so more than one observer can watch the same job stream.
type Admin struct {
	log      *zap.Logger
	mgr      *manager.Manager
	sched    *scheduler.Scheduler
	breakers *breaker.Registry
	bus      *eventbus.Bus
	notify   *patterns.PubSub

	mu         sync.Mutex
	workQueues map[string]*patterns.WorkQueue
}

// New returns an Admin wired to the given components. bus, when non-nil, is
// used both to surface the patterns layer's own events and to bridge
// scheduler job-lifecycle events into WatchJobs notifications.
func New(mgr *manager.Manager, sched *scheduler.Scheduler, breakers *breaker.Registry, log *zap.Logger, bus *eventbus.Bus) *Admin {
	a := &Admin{
		log:        log,
		mgr:        mgr,
		sched:      sched,
		breakers:   breakers,
		bus:        bus,
		notify:     patterns.NewPubSub(log, bus),
		workQueues: make(map[string]*patterns.WorkQueue),
	}
	if bus != nil {
		bus.Subscribe(scheduler.EventCompleted, a.onJobLifecycle)
		bus.Subscribe(scheduler.EventFailed, a.onJobLifecycle)
		bus.Subscribe(scheduler.EventCancelled, a.onJobLifecycle)
	}
	return a
}

// onJobLifecycle republishes a terminal job-lifecycle event to every active
// WatchJobs subscriber. Publishing with nobody watching triggers
// patterns.EventNoActiveSubscribers on the bus.
func (a *Admin) onJobLifecycle(e eventbus.Event) {
	job, ok := e.Data.(queue.Job)
	if !ok {
		return
	}
	msg := queue.NewMessage(job, queue.SendOptions{})
	a.notify.Publish(context.Background(), msg)
}

// WatchJobs registers fn to receive every subsequent job-lifecycle
// notification (completed, failed, or cancelled), under the given
// subscriber id. It returns a function that unsubscribes fn.
func (a *Admin) WatchJobs(id string, fn patterns.SubscriberFunc) func() {
	return a.notify.Subscribe(id, fn)
}

// workQueueFor returns the cached patterns.WorkQueue bound to queueName,
// constructing it against the queue's provider on first use.
func (a *Admin) workQueueFor(queueName string) (*patterns.WorkQueue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if wq, ok := a.workQueues[queueName]; ok {
		return wq, nil
	}
	p, err := a.mgr.ProviderFor(queueName)
	if err != nil {
		return nil, err
	}
	wq := patterns.NewWorkQueue(p, queueName, a.log, a.bus)
	a.workQueues[queueName] = wq
	return wq, nil
}

// DispatchOnce drives one message on queueName through a patterns.WorkQueue,
// consulting hasCapacity before receiving anything: when hasCapacity
// reports no free worker, DispatchOnce reports no message handled and the
// WorkQueue publishes patterns.EventNoWorkersAvailable instead of touching
// the provider.
func (a *Admin) DispatchOnce(ctx context.Context, queueName string, pollTimeout time.Duration, hasCapacity func() bool, fn patterns.ConsumeFunc) (bool, error) {
	wq, err := a.workQueueFor(queueName)
	if err != nil {
		return false, err
	}
	wq.SetWorkerPicker(hasCapacity)
	return wq.ConsumeOnce(ctx, pollTimeout, fn)
}

// Stats reports job counts, provider health, and queue depths.
func (a *Admin) Stats(ctx context.Context) manager.Stats {
	return a.mgr.GetStats(ctx)
}

// BreakerStates reports every known job type's current circuit breaker
// state.
func (a *Admin) BreakerStates() map[string]breaker.State {
	return a.breakers.States()
}

// PeekResult is a non-destructive sample of a queue's contents.
type PeekResult struct {
	Queue string          `json:"queue"`
	Items []queue.Message `json:"items"`
}

// Peek samples up to n messages from queueName without losing them: the
// sampled messages are held until sampling ends and are then all Nacked
// with requeue so they return to the queue. Across backends without strict
// FIFO this can reorder the queue slightly, but it never drops a message.
func (a *Admin) Peek(ctx context.Context, queueName string, n int64) (PeekResult, error) {
	if n <= 0 {
		n = 10
	}
	res := PeekResult{Queue: queueName}
	var err error
	for i := int64(0); i < n; i++ {
		var msg *queue.Message
		msg, err = a.mgr.Receive(ctx, queueName, 50*time.Millisecond)
		if err != nil || msg == nil {
			break
		}
		res.Items = append(res.Items, *msg)
	}
	for _, msg := range res.Items {
		if nackErr := a.mgr.Nack(ctx, queueName, msg, true); nackErr != nil && err == nil {
			err = nackErr
		}
	}
	return res, err
}

// PurgeQueue drains queueName, Acking (permanently discarding) every
// message currently available, and reports how many were removed.
func (a *Admin) PurgeQueue(ctx context.Context, queueName string) (int64, error) {
	var purged int64
	for {
		msg, err := a.mgr.Receive(ctx, queueName, 50*time.Millisecond)
		if err != nil {
			return purged, err
		}
		if msg == nil {
			return purged, nil
		}
		if err := a.mgr.Ack(ctx, queueName, *msg); err != nil {
			return purged, err
		}
		purged++
	}
}

// JobStatus returns a job's current state.
func (a *Admin) JobStatus(jobID string) (queue.Job, error) {
	return a.sched.Get(jobID)
}

// CancelJob cancels a job.
func (a *Admin) CancelJob(jobID string) (queue.Job, error) {
	return a.mgr.CancelJob(jobID)
}

// ListJobs lists every known job, optionally filtered by status.
func (a *Admin) ListJobs(status queue.Status) []queue.Job {
	return a.sched.List(status)
}

// BenchResult summarizes a throughput benchmark run.
type BenchResult struct {
	Count      int           `json:"count"`
	Duration   time.Duration `json:"duration"`
	Throughput float64       `json:"throughput_jobs_per_sec"`
}

// Bench submits count no-op jobs of jobType at the given rate (jobs/sec)
// and waits up to timeout for them all to reach a terminal state.
func (a *Admin) Bench(ctx context.Context, jobType string, count, rate int, timeout time.Duration) (BenchResult, error) {
	res := BenchResult{Count: count}
	if count <= 0 {
		return res, fmt.Errorf("count must be > 0")
	}
	if rate <= 0 {
		rate = 100
	}

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	start := time.Now()
	submitted := make([]string, 0, count)
	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
		job, err := a.mgr.SubmitJob(ctx, jobType, i, queue.JobOptions{})
		if err != nil {
			return res, err
		}
		submitted = append(submitted, job.ID)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.allTerminal(submitted) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	res.Duration = time.Since(start)
	if res.Duration > 0 {
		res.Throughput = float64(count) / res.Duration.Seconds()
	}
	return res, nil
}

func (a *Admin) allTerminal(jobIDs []string) bool {
	for _, id := range jobIDs {
		job, err := a.sched.Get(id)
		if err != nil || !job.Status.Terminal() {
			return false
		}
	}
	return true
}
