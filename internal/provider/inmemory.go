// Copyright 2025 James Ross
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/jamesross/polyqueue/internal/queue"
)

// InMemory is a process-local Provider backed by plain Go slices and maps.
// It never serializes a payload and has no persistence: a process restart
// loses every queue. It is the default provider for tests and single-node
// deployments.
type InMemory struct {
	name string

	mu     sync.Mutex
	queues map[string]*memQueue
}

type memQueue struct {
	mu       sync.Mutex
	pending  []queue.Message
	inFlight map[string]queue.Message
	notify   chan struct{}
}

func newMemQueue() *memQueue {
	return &memQueue{
		inFlight: make(map[string]queue.Message),
		notify:   make(chan struct{}, 1),
	}
}

func (q *memQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// NewInMemory returns a ready-to-use InMemory provider.
func NewInMemory(name string) *InMemory {
	return &InMemory{name: name, queues: make(map[string]*memQueue)}
}

// InMemoryFactory constructs InMemory providers; it ignores config since
// the in-memory backend has nothing to configure.
type InMemoryFactory struct{}

func (InMemoryFactory) Create(name string, _ map[string]interface{}) (Provider, error) {
	return NewInMemory(name), nil
}

func (p *InMemory) Name() string { return p.name }
func (p *InMemory) Type() string { return TypeInMemory }

func (p *InMemory) queue(name string) *memQueue {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[name]
	if !ok {
		q = newMemQueue()
		p.queues[name] = q
	}
	return q
}

func (p *InMemory) Send(ctx context.Context, queueName string, msg queue.Message) error {
	q := p.queue(queueName)
	q.mu.Lock()
	q.pending = append(q.pending, msg)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Receive picks the highest-priority deliverable, non-expired message,
// breaking ties by earliest timestamp. It polls on q.notify so a Send
// wakes a blocked Receive immediately rather than waiting out the poll
// interval.
func (p *InMemory) Receive(ctx context.Context, queueName string, timeout time.Duration) (*queue.Message, error) {
	q := p.queue(queueName)
	deadline := time.Now().Add(timeout)

	for {
		if msg, ok := q.tryTake(); ok {
			return &msg, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := remaining
		if wait > 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *memQueue) tryTake() (queue.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	best := -1
	for i, m := range q.pending {
		if m.Expired(now) || !m.Deliverable(now) {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		if m.Metadata.Priority > q.pending[best].Metadata.Priority {
			best = i
			continue
		}
		if m.Metadata.Priority == q.pending[best].Metadata.Priority &&
			m.Metadata.Timestamp.Before(q.pending[best].Metadata.Timestamp) {
			best = i
		}
	}
	if best == -1 {
		return queue.Message{}, false
	}

	msg := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	q.inFlight[msg.ID] = msg
	return msg, true
}

func (p *InMemory) Ack(ctx context.Context, queueName string, msg queue.Message) error {
	q := p.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, msg.ID)
	return nil
}

func (p *InMemory) Nack(ctx context.Context, queueName string, msg queue.Message, requeue bool) error {
	q := p.queue(queueName)
	q.mu.Lock()
	delete(q.inFlight, msg.ID)
	if requeue {
		q.pending = append(q.pending, msg)
	}
	q.mu.Unlock()
	if requeue {
		q.signal()
	}
	return nil
}

func (p *InMemory) QueueInfo(ctx context.Context, queueName string) (QueueInfo, error) {
	q := p.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueInfo{Name: queueName, Length: int64(len(q.pending))}, nil
}

func (p *InMemory) Capabilities() Capabilities {
	return Capabilities{
		AtomicAck:      true,
		Persistence:    false,
		Prioritization: true,
		Delay:          true,
		TTL:            true,
	}
}

func (p *InMemory) Health(ctx context.Context) HealthStatus {
	return HealthStatus{Status: HealthHealthy, CheckedAt: time.Now()}
}

func (p *InMemory) Close() error { return nil }

func init() {
	defaultRegistry.Register(TypeInMemory, InMemoryFactory{})
}
