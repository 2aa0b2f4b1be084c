// Copyright 2025 James Ross
//
// Package eventbus is an in-process, synchronous, best-effort publish/
// subscribe bus used for observability: the Queue Manager, Job Scheduler,
// and Job Processor emit named events here for admin tooling and metrics to
// observe. It never gates correctness — a panicking or slow listener must
// never block or fail the operation that published the event.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Event is a single named occurrence with an opaque payload. The payload's
// concrete type is a contract between publishers and subscribers of a given
// Name; the bus itself never inspects it.
type Event struct {
	Name string
	Data interface{}
}

// Handler receives a published Event. Handlers run synchronously on the
// publisher's goroutine and must not block for long.
type Handler func(Event)

// Bus is a named, synchronous, in-process event bus. The zero value is not
// usable; construct with New.
type Bus struct {
	log *zap.Logger

	mu        sync.RWMutex
	listeners map[string][]Handler
}

// New returns a ready-to-use Bus.
func New(log *zap.Logger) *Bus {
	return &Bus{
		log:       log,
		listeners: make(map[string][]Handler),
	}
}

// Subscribe registers handler to run whenever name is published. It returns
// an unsubscribe function.
func (b *Bus) Subscribe(name string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners[name] = append(b.listeners[name], handler)
	idx := len(b.listeners[name]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.listeners[name]
		if idx >= len(hs) || hs[idx] == nil {
			return
		}
		hs[idx] = nil
	}
}

// Publish invokes every listener subscribed to event.Name with a
// copy-on-write snapshot of the listener slice, so a handler that
// subscribes or unsubscribes during dispatch never races the publisher. A
// handler panic is recovered, logged, and never propagates: one broken
// listener must not break the publisher or other listeners.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	hs := b.listeners[event.Name]
	snapshot := make([]Handler, 0, len(hs))
	snapshot = append(snapshot, hs...)
	b.mu.RUnlock()

	for _, h := range snapshot {
		if h == nil {
			continue
		}
		b.dispatch(event, h)
	}
}

func (b *Bus) dispatch(event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus handler panicked",
				zap.String("event", event.Name),
				zap.Any("recovered", r),
			)
		}
	}()
	h(event)
}
