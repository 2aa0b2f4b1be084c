// Copyright 2025 James Ross
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/jamesross/polyqueue/internal/queue"
)

// KafkaLike is a Provider modelling a Kafka-style topic. No real
// partitioned, replicated log client exists in this codebase's dependency
// surface, so KafkaLike models a topic as an in-process append-only log
// with callback-registration delivery: Receive pulls the next unread
// message like any other Provider, while Subscribe additionally pushes
// every new message to a registered callback for consumers built against
// that style instead.
type KafkaLike struct {
	name string

	mu     sync.Mutex
	topics map[string]*kafkaTopic
}

type kafkaTopic struct {
	mu        sync.Mutex
	log       []queue.Message
	cursor    int
	callbacks []KafkaLikeCallback
	notify    chan struct{}
}

// KafkaLikeCallback is invoked synchronously as each message is appended to
// a topic; it must not block for long.
type KafkaLikeCallback func(queue.Message)

func newKafkaTopic() *kafkaTopic {
	return &kafkaTopic{notify: make(chan struct{}, 1)}
}

func (t *kafkaTopic) signal() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// NewKafkaLike returns a ready-to-use KafkaLike provider.
func NewKafkaLike(name string) *KafkaLike {
	return &KafkaLike{name: name, topics: make(map[string]*kafkaTopic)}
}

// KafkaLikeFactory constructs KafkaLike providers; it ignores config since
// the in-process topic log has nothing external to configure.
type KafkaLikeFactory struct{}

func (KafkaLikeFactory) Create(name string, _ map[string]interface{}) (Provider, error) {
	return NewKafkaLike(name), nil
}

func (p *KafkaLike) Name() string { return p.name }
func (p *KafkaLike) Type() string { return TypeKafkaLike }

func (p *KafkaLike) topic(name string) *kafkaTopic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = newKafkaTopic()
		p.topics[name] = t
	}
	return t
}

func (p *KafkaLike) Send(ctx context.Context, queueName string, msg queue.Message) error {
	t := p.topic(queueName)
	t.mu.Lock()
	t.log = append(t.log, msg)
	callbacks := append([]KafkaLikeCallback(nil), t.callbacks...)
	t.mu.Unlock()
	t.signal()

	for _, cb := range callbacks {
		if cb == nil {
			continue
		}
		cb(msg)
	}
	return nil
}

// Subscribe registers a callback invoked for every message sent to
// queueName from this point forward. It returns an unsubscribe function.
func (p *KafkaLike) Subscribe(queueName string, cb KafkaLikeCallback) func() {
	t := p.topic(queueName)
	t.mu.Lock()
	t.callbacks = append(t.callbacks, cb)
	idx := len(t.callbacks) - 1
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if idx < len(t.callbacks) {
			t.callbacks[idx] = nil
		}
	}
}

// Receive always delivers an empty result once the topic's log is
// exhausted up to the shared cursor — there is a single logical consumer
// per topic in this model, matching a process with no consumer-group
// coordination to speak of.
func (p *KafkaLike) Receive(ctx context.Context, queueName string, timeout time.Duration) (*queue.Message, error) {
	t := p.topic(queueName)
	deadline := time.Now().Add(timeout)

	for {
		if msg, ok := t.next(); ok {
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
		case <-t.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (t *kafkaTopic) next() (queue.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cursor >= len(t.log) {
		return queue.Message{}, false
	}
	msg := t.log[t.cursor]
	t.cursor++
	return msg, true
}

// Ack is a no-op: the log retains every message regardless of delivery, so
// there is nothing to remove.
func (p *KafkaLike) Ack(ctx context.Context, queueName string, msg queue.Message) error {
	return nil
}

// Nack rewinds the topic's cursor by one when requeue is true, so the same
// message is redelivered on the next Receive. This is only correct for a
// single logical consumer, consistent with this provider's model.
func (p *KafkaLike) Nack(ctx context.Context, queueName string, msg queue.Message, requeue bool) error {
	if !requeue {
		return nil
	}
	t := p.topic(queueName)
	t.mu.Lock()
	if t.cursor > 0 {
		t.cursor--
	}
	t.mu.Unlock()
	t.signal()
	return nil
}

func (p *KafkaLike) QueueInfo(ctx context.Context, queueName string) (QueueInfo, error) {
	t := p.topic(queueName)
	t.mu.Lock()
	defer t.mu.Unlock()
	return QueueInfo{Name: queueName, Length: int64(len(t.log) - t.cursor)}, nil
}

func (p *KafkaLike) Capabilities() Capabilities {
	return Capabilities{
		AtomicAck:      false,
		Persistence:    false,
		Prioritization: false,
		Delay:          false,
		TTL:            false,
	}
}

func (p *KafkaLike) Health(ctx context.Context) HealthStatus {
	return HealthStatus{Status: HealthHealthy, CheckedAt: time.Now()}
}

func (p *KafkaLike) Close() error { return nil }

func init() {
	defaultRegistry.Register(TypeKafkaLike, KafkaLikeFactory{})
}
