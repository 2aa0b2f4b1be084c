// Copyright 2025 James Ross
//
// Package provider abstracts the transport a queue runs over. The Queue
// Manager talks to every backend — in-memory, Redis-like, AMQP-like,
// Kafka-like, SQS-like — through the single Provider interface defined
// here; nothing above this package knows which wire protocol a given queue
// actually uses.
package provider

import (
	"context"
	"time"

	"github.com/jamesross/polyqueue/internal/queue"
)

// Provider is a message transport a Queue Manager can send to and receive
// from. Implementations own their own connections and must be safe for
// concurrent use by multiple goroutines.
type Provider interface {
	// Name is the operator-assigned name of this provider instance (e.g.
	// "primary-redis"), distinct from Type.
	Name() string

	// Type identifies the backend kind (e.g. "inmemory", "redis-like").
	Type() string

	// Send enqueues msg onto queueName.
	Send(ctx context.Context, queueName string, msg queue.Message) error

	// Receive waits up to timeout for a message on queueName. A nil
	// Message with a nil error means the wait elapsed with nothing
	// available.
	Receive(ctx context.Context, queueName string, timeout time.Duration) (*queue.Message, error)

	// Ack confirms successful processing of msg, permanently removing it
	// from queueName.
	Ack(ctx context.Context, queueName string, msg queue.Message) error

	// Nack reports failed processing of msg. When requeue is true the
	// message becomes available for redelivery; otherwise it is dropped
	// (the caller is responsible for dead-lettering before calling Nack
	// with requeue=false).
	Nack(ctx context.Context, queueName string, msg queue.Message, requeue bool) error

	// QueueInfo reports the current depth and backlog of queueName.
	QueueInfo(ctx context.Context, queueName string) (QueueInfo, error)

	// Capabilities describes what this provider supports.
	Capabilities() Capabilities

	// Health reports the provider's current operating condition.
	Health(ctx context.Context) HealthStatus

	// Close releases any held connections. Once closed a Provider must
	// not be used again.
	Close() error
}

// Capabilities describes optional behavior a Provider may or may not
// support. It is informational: the Queue Manager does not consult it.
type Capabilities struct {
	AtomicAck      bool // ack/nack are distinguishable from redelivery
	Persistence    bool // messages survive a process restart
	Prioritization bool // Metadata.Priority affects delivery order
	Delay          bool // Metadata.Delay is honored
	TTL            bool // Metadata.TTL is honored
}

// QueueInfo reports a queue's current backlog.
type QueueInfo struct {
	Name   string `json:"name"`
	Length int64  `json:"length"`
}

// HealthStatus describes a provider's condition.
type HealthStatus struct {
	Status    string    `json:"status"` // healthy, degraded, unhealthy
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// Factory constructs a Provider from an operator-supplied config map,
// typically unmarshaled from a providers[i].config block.
type Factory interface {
	Create(name string, config map[string]interface{}) (Provider, error)
}

// Backend type constants accepted in a providers[i].type field.
const (
	TypeInMemory  = "inmemory"
	TypeRedisLike = "redis-like"
	TypeAMQPLike  = "amqp-like"
	TypeKafkaLike = "kafka-like"
	TypeSQSLike   = "sqs-like"
)
