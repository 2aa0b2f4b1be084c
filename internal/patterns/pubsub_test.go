// Copyright 2025 James Ross
package patterns

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/jamesross/polyqueue/internal/eventbus"
	"github.com/jamesross/polyqueue/internal/queue"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublishDeliversToAllActiveSubscribers(t *testing.T) {
	ps := NewPubSub(zap.NewNop(), nil)
	var a, b int32
	ps.Subscribe("a", func(ctx context.Context, msg queue.Message) error {
		atomic.AddInt32(&a, 1)
		return nil
	})
	ps.Subscribe("b", func(ctx context.Context, msg queue.Message) error {
		atomic.AddInt32(&b, 1)
		return nil
	})

	failed := ps.Publish(context.Background(), queue.NewMessage("x", queue.SendOptions{}))
	assert.Empty(t, failed)
	assert.Equal(t, int32(1), a)
	assert.Equal(t, int32(1), b)
}

func TestPublishDeactivatesFailingSubscriber(t *testing.T) {
	ps := NewPubSub(zap.NewNop(), nil)
	ps.Subscribe("bad", func(ctx context.Context, msg queue.Message) error {
		return errors.New("nope")
	})

	failed := ps.Publish(context.Background(), queue.NewMessage("x", queue.SendOptions{}))
	assert.Equal(t, []string{"bad"}, failed)
	assert.Empty(t, ps.ActiveSubscribers())

	var calledAgain bool
	ps.subscribers["bad"].fn = func(ctx context.Context, msg queue.Message) error {
		calledAgain = true
		return nil
	}
	ps.Publish(context.Background(), queue.NewMessage("y", queue.SendOptions{}))
	assert.False(t, calledAgain)
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	ps := NewPubSub(zap.NewNop(), nil)
	failed := ps.Publish(context.Background(), queue.NewMessage("x", queue.SendOptions{}))
	assert.Nil(t, failed)
}

func TestPublishWithNoSubscribersPublishesNoActiveSubscribers(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	var events []string
	bus.Subscribe(EventNoActiveSubscribers, func(e eventbus.Event) { events = append(events, e.Name) })

	ps := NewPubSub(zap.NewNop(), bus)
	failed := ps.Publish(context.Background(), queue.NewMessage("x", queue.SendOptions{}))
	assert.Nil(t, failed)
	assert.Equal(t, []string{EventNoActiveSubscribers}, events)
}

func TestPublishRecoversFromPanickingSubscriber(t *testing.T) {
	ps := NewPubSub(zap.NewNop(), nil)
	ps.Subscribe("panicky", func(ctx context.Context, msg queue.Message) error {
		panic("boom")
	})

	failed := ps.Publish(context.Background(), queue.NewMessage("x", queue.SendOptions{}))
	assert.Equal(t, []string{"panicky"}, failed)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ps := NewPubSub(zap.NewNop(), nil)
	var calls int32
	unsub := ps.Subscribe("a", func(ctx context.Context, msg queue.Message) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	unsub()

	ps.Publish(context.Background(), queue.NewMessage("x", queue.SendOptions{}))
	assert.Equal(t, int32(0), calls)
}
