// Copyright 2025 James Ross
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jamesross/polyqueue/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPLike implements Provider over a broker speaking the AMQP 0-9-1
// protocol (RabbitMQ and compatible brokers). Each queueName maps 1:1 onto
// an AMQP queue of the same name, declared lazily on first use.
type AMQPLike struct {
	name string
	url  string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	consumersMu sync.Mutex
	consumers   map[string]<-chan amqp.Delivery

	pendingMu sync.Mutex
	pending   map[string]amqp.Delivery // message ID -> unacked delivery
}

// AMQPLikeFactory constructs AMQPLike providers from a config map
// unmarshaled from providers[i].config.
type AMQPLikeFactory struct{}

func (AMQPLikeFactory) Create(name string, config map[string]interface{}) (Provider, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, NewConfigError("url", "amqp-like provider requires a url")
	}
	return NewAMQPLike(name, url)
}

// NewAMQPLike dials url and returns a ready-to-use AMQPLike provider.
func NewAMQPLike(name, url string) (*AMQPLike, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPLike{
		name:      name,
		url:       url,
		conn:      conn,
		channel:   ch,
		consumers: make(map[string]<-chan amqp.Delivery),
		pending:   make(map[string]amqp.Delivery),
	}, nil
}

func (p *AMQPLike) Name() string { return p.name }
func (p *AMQPLike) Type() string { return TypeAMQPLike }

func (p *AMQPLike) declare(queueName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.channel.QueueDeclare(queueName, true, false, false, false, nil)
	return err
}

func (p *AMQPLike) Send(ctx context.Context, queueName string, msg queue.Message) error {
	if err := p.declare(queueName); err != nil {
		return NewProviderError(p.name, "send", err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Priority:     uint8(msg.Metadata.Priority),
		Body:         body,
	})
}

func (p *AMQPLike) consumerFor(queueName string) (<-chan amqp.Delivery, error) {
	p.consumersMu.Lock()
	defer p.consumersMu.Unlock()

	if ch, ok := p.consumers[queueName]; ok {
		return ch, nil
	}
	if err := p.declare(queueName); err != nil {
		return nil, err
	}

	p.mu.Lock()
	deliveries, err := p.channel.Consume(queueName, "", false, false, false, false, nil)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p.consumers[queueName] = deliveries
	return deliveries, nil
}

func (p *AMQPLike) Receive(ctx context.Context, queueName string, timeout time.Duration) (*queue.Message, error) {
	deliveries, err := p.consumerFor(queueName)
	if err != nil {
		return nil, NewProviderError(p.name, "receive", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case d, ok := <-deliveries:
		if !ok {
			return nil, NewProviderError(p.name, "receive", fmt.Errorf("delivery channel closed for queue %q", queueName))
		}
		var msg queue.Message
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			_ = d.Nack(false, false)
			return nil, fmt.Errorf("unmarshal delivery: %w", err)
		}
		p.pendingMu.Lock()
		p.pending[msg.ID] = d
		p.pendingMu.Unlock()
		return &msg, nil
	}
}

func (p *AMQPLike) takeDelivery(msgID string) (amqp.Delivery, bool) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	d, ok := p.pending[msgID]
	if ok {
		delete(p.pending, msgID)
	}
	return d, ok
}

func (p *AMQPLike) Ack(ctx context.Context, queueName string, msg queue.Message) error {
	d, ok := p.takeDelivery(msg.ID)
	if !ok {
		return nil
	}
	return d.Ack(false)
}

func (p *AMQPLike) Nack(ctx context.Context, queueName string, msg queue.Message, requeue bool) error {
	d, ok := p.takeDelivery(msg.ID)
	if !ok {
		return nil
	}
	return d.Nack(false, requeue)
}

func (p *AMQPLike) QueueInfo(ctx context.Context, queueName string) (QueueInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, err := p.channel.QueueInspect(queueName)
	if err != nil {
		return QueueInfo{}, NewProviderError(p.name, "queue_info", err)
	}
	return QueueInfo{Name: queueName, Length: int64(q.Messages)}, nil
}

func (p *AMQPLike) Capabilities() Capabilities {
	return Capabilities{
		AtomicAck:      true,
		Persistence:    true,
		Prioritization: true,
		Delay:          false,
		TTL:            false,
	}
}

func (p *AMQPLike) Health(ctx context.Context) HealthStatus {
	p.mu.Lock()
	closed := p.conn == nil || p.conn.IsClosed()
	p.mu.Unlock()
	if closed {
		return HealthStatus{Status: HealthUnhealthy, Message: "connection closed", CheckedAt: time.Now()}
	}
	return HealthStatus{Status: HealthHealthy, CheckedAt: time.Now()}
}

func (p *AMQPLike) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing amqp-like provider: %v", errs)
	}
	return nil
}

func init() {
	defaultRegistry.Register(TypeAMQPLike, AMQPLikeFactory{})
}
