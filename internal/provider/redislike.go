// Copyright 2025 James Ross
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamesross/polyqueue/internal/queue"
	"github.com/redis/go-redis/v9"
)

// RedisLikeConfig configures a Redis-backed provider. Any client speaking
// the Redis protocol (Redis, KeyDB, Dragonfly, ...) is addressable this
// way, hence "Redis-like" rather than "Redis".
type RedisLikeConfig struct {
	URL          string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisLike implements Provider on top of Redis sorted sets: one ZSET of
// pending message IDs ordered by priority/arrival, one ZSET of delayed
// message IDs ordered by ready time, and a hash of message ID to the
// serialized envelope. The layout generalizes the job-queue priority-list
// scheme to arbitrary named queues and delay/TTL semantics.
type RedisLike struct {
	name      string
	client    redis.Cmdable
	keyPrefix string
}

// RedisLikeFactory constructs RedisLike providers from a config map
// unmarshaled from providers[i].config.
type RedisLikeFactory struct{}

func (RedisLikeFactory) Create(name string, config map[string]interface{}) (Provider, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, NewConfigError("url", "redis-like provider requires a url")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis-like url: %w", err)
	}
	if pw, ok := config["password"].(string); ok && pw != "" {
		opt.Password = pw
	}
	if db, ok := config["db"].(int); ok {
		opt.DB = db
	}
	client := redis.NewClient(opt)

	prefix, _ := config["key_prefix"].(string)
	if prefix == "" {
		prefix = "polyqueue:"
	}
	return NewRedisLike(name, client, prefix), nil
}

// NewRedisLike wraps an already-constructed redis.Cmdable (a plain client
// or a cluster client) as a Provider.
func NewRedisLike(name string, client redis.Cmdable, keyPrefix string) *RedisLike {
	return &RedisLike{name: name, client: client, keyPrefix: keyPrefix}
}

func (p *RedisLike) Name() string { return p.name }
func (p *RedisLike) Type() string { return TypeRedisLike }

func (p *RedisLike) pendingKey(queueName string) string { return p.keyPrefix + queueName + ":pending" }
func (p *RedisLike) delayedKey(queueName string) string { return p.keyPrefix + queueName + ":delayed" }
func (p *RedisLike) msgsKey(queueName string) string    { return p.keyPrefix + queueName + ":msgs" }

// score orders pending messages by priority descending, then by arrival
// time ascending within the same priority.
func score(msg queue.Message) float64 {
	return float64(msg.Metadata.Priority)*1e15 - float64(msg.Metadata.Timestamp.UnixNano())/1e6
}

func (p *RedisLike) Send(ctx context.Context, queueName string, msg queue.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := p.client.HSet(ctx, p.msgsKey(queueName), msg.ID, body).Err(); err != nil {
		return NewProviderError(p.name, "send", err)
	}

	if msg.Metadata.Delay > 0 {
		readyAt := float64(msg.Metadata.Timestamp.Add(msg.Metadata.Delay).UnixNano())
		return p.client.ZAdd(ctx, p.delayedKey(queueName), redis.Z{Score: readyAt, Member: msg.ID}).Err()
	}
	return p.client.ZAdd(ctx, p.pendingKey(queueName), redis.Z{Score: score(msg), Member: msg.ID}).Err()
}

// promoteDelayed moves any delayed message whose ready time has passed into
// the pending set. Called opportunistically before every receive.
func (p *RedisLike) promoteDelayed(ctx context.Context, queueName string) error {
	now := float64(time.Now().UnixNano())
	ids, err := p.client.ZRangeByScore(ctx, p.delayedKey(queueName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		raw, err := p.client.HGet(ctx, p.msgsKey(queueName), id).Result()
		if err != nil {
			continue
		}
		var msg queue.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		pipe := p.client.TxPipeline()
		pipe.ZRem(ctx, p.delayedKey(queueName), id)
		pipe.ZAdd(ctx, p.pendingKey(queueName), redis.Z{Score: score(msg), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *RedisLike) Receive(ctx context.Context, queueName string, timeout time.Duration) (*queue.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := p.promoteDelayed(ctx, queueName); err != nil {
			return nil, NewProviderError(p.name, "receive", err)
		}

		res, err := p.client.ZPopMax(ctx, p.pendingKey(queueName), 1).Result()
		if err != nil {
			return nil, NewProviderError(p.name, "receive", err)
		}
		if len(res) > 0 {
			id, _ := res[0].Member.(string)
			raw, err := p.client.HGet(ctx, p.msgsKey(queueName), id).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, NewProviderError(p.name, "receive", err)
			}
			var msg queue.Message
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				return nil, fmt.Errorf("unmarshal message %s: %w", id, err)
			}
			if msg.Expired(time.Now()) {
				p.client.HDel(ctx, p.msgsKey(queueName), id)
				continue
			}
			return &msg, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := remaining
		if wait > 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (p *RedisLike) Ack(ctx context.Context, queueName string, msg queue.Message) error {
	if err := p.client.HDel(ctx, p.msgsKey(queueName), msg.ID).Err(); err != nil {
		return NewProviderError(p.name, "ack", err)
	}
	return nil
}

func (p *RedisLike) Nack(ctx context.Context, queueName string, msg queue.Message, requeue bool) error {
	if !requeue {
		return p.Ack(ctx, queueName, msg)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, p.msgsKey(queueName), msg.ID, body)
	pipe.ZAdd(ctx, p.pendingKey(queueName), redis.Z{Score: score(msg), Member: msg.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return NewProviderError(p.name, "nack", err)
	}
	return nil
}

func (p *RedisLike) QueueInfo(ctx context.Context, queueName string) (QueueInfo, error) {
	n, err := p.client.ZCard(ctx, p.pendingKey(queueName)).Result()
	if err != nil {
		return QueueInfo{}, NewProviderError(p.name, "queue_info", err)
	}
	return QueueInfo{Name: queueName, Length: n}, nil
}

func (p *RedisLike) Capabilities() Capabilities {
	return Capabilities{
		AtomicAck:      false,
		Persistence:    true,
		Prioritization: true,
		Delay:          true,
		TTL:            true,
	}
}

func (p *RedisLike) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	if err := p.client.Ping(ctx).Err(); err != nil {
		return HealthStatus{Status: HealthUnhealthy, Message: err.Error(), CheckedAt: time.Now()}
	}
	_ = time.Since(start)
	return HealthStatus{Status: HealthHealthy, CheckedAt: time.Now()}
}

func (p *RedisLike) Close() error {
	if closer, ok := p.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func init() {
	defaultRegistry.Register(TypeRedisLike, RedisLikeFactory{})
}
