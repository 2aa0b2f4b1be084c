// Copyright 2025 James Ross
package patterns

import (
	"context"
	"sync"

	"github.com/jamesross/polyqueue/internal/eventbus"
	"github.com/jamesross/polyqueue/internal/queue"
	"go.uber.org/zap"
)

// SubscriberFunc handles one message delivered to a single subscriber.
type SubscriberFunc func(ctx context.Context, msg queue.Message) error

// EventNoActiveSubscribers is published on the PubSub's bus whenever
// Publish is called with zero active subscribers.
const EventNoActiveSubscribers = "pubsub.no_active_subscribers"

type subscriber struct {
	id      string
	fn      SubscriberFunc
	active  bool
}

// PubSub fans a message out to every currently active subscriber and waits
// for all of them before reporting done. A subscriber whose handler
// returns an error is deactivated — it will not receive future messages
// until it re-subscribes — but its failure does not affect delivery to
// other subscribers. Publishing with zero active subscribers is a no-op
// success: there is nobody to await, so the message is immediately
// considered delivered.
type PubSub struct {
	log *zap.Logger
	bus *eventbus.Bus

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// NewPubSub returns an empty PubSub. bus may be nil, in which case
// EventNoActiveSubscribers is never published.
func NewPubSub(log *zap.Logger, bus *eventbus.Bus) *PubSub {
	return &PubSub{log: log, bus: bus, subscribers: make(map[string]*subscriber)}
}

// Subscribe registers fn under id, activating it, and returns a function
// that unsubscribes it entirely. A later Subscribe call with the same id
// replaces the earlier subscriber.
func (ps *PubSub) Subscribe(id string, fn SubscriberFunc) func() {
	ps.mu.Lock()
	ps.subscribers[id] = &subscriber{id: id, fn: fn, active: true}
	ps.mu.Unlock()

	return func() {
		ps.mu.Lock()
		delete(ps.subscribers, id)
		ps.mu.Unlock()
	}
}

// ActiveSubscribers lists the IDs of subscribers currently eligible for
// delivery.
func (ps *PubSub) ActiveSubscribers() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]string, 0, len(ps.subscribers))
	for id, s := range ps.subscribers {
		if s.active {
			out = append(out, id)
		}
	}
	return out
}

// Publish delivers msg to every active subscriber concurrently and blocks
// until all of them have returned. It reports the set of subscriber IDs
// whose handler errored and were deactivated as a result.
func (ps *PubSub) Publish(ctx context.Context, msg queue.Message) []string {
	ps.mu.RLock()
	targets := make([]*subscriber, 0, len(ps.subscribers))
	for _, s := range ps.subscribers {
		if s.active {
			targets = append(targets, s)
		}
	}
	ps.mu.RUnlock()

	if len(targets) == 0 {
		if ps.bus != nil {
			ps.bus.Publish(eventbus.Event{Name: EventNoActiveSubscribers, Data: msg})
		}
		return nil
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)
	for _, s := range targets {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			if err := ps.deliver(ctx, s, msg); err != nil {
				mu.Lock()
				failed = append(failed, s.id)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if len(failed) > 0 {
		ps.deactivate(failed)
	}
	return failed
}

func (ps *PubSub) deliver(ctx context.Context, s *subscriber, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ps.log.Error("pubsub subscriber panicked",
				zap.String("subscriber_id", s.id), zap.Any("panic", r))
			err = errPanic
		}
	}()
	return s.fn(ctx, msg)
}

func (ps *PubSub) deactivate(ids []string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, id := range ids {
		if s, ok := ps.subscribers[id]; ok {
			s.active = false
		}
	}
}
