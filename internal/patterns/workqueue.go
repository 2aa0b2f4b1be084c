// Copyright 2025 James Ross
//
// Package patterns implements the two consumption patterns the Queue
// Manager's raw Provider can be wrapped in: Work Queue (exactly one
// consumer handles a given message) and Pub/Sub (every active subscriber
// sees every message). Both sit on top of the Provider interface, so they
// work identically regardless of which backend a queue is bound to.
package patterns

import (
	"context"
	"time"

	"github.com/jamesross/polyqueue/internal/eventbus"
	"github.com/jamesross/polyqueue/internal/provider"
	"github.com/jamesross/polyqueue/internal/queue"
	"go.uber.org/zap"
)

// ConsumeFunc handles one delivered message, returning an error to trigger
// a Nack-with-requeue.
type ConsumeFunc func(ctx context.Context, msg queue.Message) error

// EventNoWorkersAvailable is published on the WorkQueue's bus when
// ConsumeOnce is asked to pick up work but the caller-supplied picker
// reports no worker is free to take it.
const EventNoWorkersAvailable = "workqueue.no_workers_available"

// WorkQueue delivers each message on a queue to exactly one caller: a
// successful ConsumeFunc Acks the message, a failing one Nacks it with
// requeue so it becomes available for the next consumer. When no worker is
// actively calling ConsumeOnce/Run, messages simply accumulate unclaimed in the
// provider queue — there is nothing to unack, since nothing was ever
// delivered.
type WorkQueue struct {
	p         provider.Provider
	queueName string
	log       *zap.Logger
	bus       *eventbus.Bus

	picker func() bool
}

// NewWorkQueue binds a WorkQueue to one provider-backed queue. bus may be
// nil, in which case EventNoWorkersAvailable is never published.
func NewWorkQueue(p provider.Provider, queueName string, log *zap.Logger, bus *eventbus.Bus) *WorkQueue {
	return &WorkQueue{p: p, queueName: queueName, log: log, bus: bus}
}

// SetWorkerPicker installs a capacity check consulted at the top of every
// ConsumeOnce: when it returns false, ConsumeOnce reports no message
// delivered without touching the provider, and publishes
// EventNoWorkersAvailable. A nil picker (the default) means capacity is
// never checked.
func (w *WorkQueue) SetWorkerPicker(picker func() bool) {
	w.picker = picker
}

// ConsumeOnce waits up to pollTimeout for a single message and runs fn
// against it, Acking or Nacking as appropriate. It reports whether a
// message was actually delivered.
func (w *WorkQueue) ConsumeOnce(ctx context.Context, pollTimeout time.Duration, fn ConsumeFunc) (bool, error) {
	if w.picker != nil && !w.picker() {
		if w.bus != nil {
			w.bus.Publish(eventbus.Event{Name: EventNoWorkersAvailable, Data: w.queueName})
		}
		return false, nil
	}

	msg, err := w.p.Receive(ctx, w.queueName, pollTimeout)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	if err := fn(ctx, *msg); err != nil {
		if nackErr := w.p.Nack(ctx, w.queueName, *msg, true); nackErr != nil {
			w.log.Error("nack failed after handler error",
				zap.String("queue", w.queueName), zap.Error(nackErr))
		}
		return true, err
	}
	if err := w.p.Ack(ctx, w.queueName, *msg); err != nil {
		return true, err
	}
	return true, nil
}

// Run starts workerCount goroutines each looping ConsumeOnce until ctx is
// cancelled, then blocks until they've all exited.
func (w *WorkQueue) Run(ctx context.Context, workerCount int, pollTimeout time.Duration, fn ConsumeFunc) {
	if workerCount <= 0 {
		workerCount = 1
	}
	done := make(chan struct{}, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for ctx.Err() == nil {
				if _, err := w.ConsumeOnce(ctx, pollTimeout, fn); err != nil && ctx.Err() == nil {
					w.log.Warn("work queue consume error", zap.String("queue", w.queueName), zap.Error(err))
				}
			}
		}()
	}
	for i := 0; i < workerCount; i++ {
		<-done
	}
}
