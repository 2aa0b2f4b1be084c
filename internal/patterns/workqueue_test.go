// Copyright 2025 James Ross
package patterns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jamesross/polyqueue/internal/eventbus"
	"github.com/jamesross/polyqueue/internal/provider"
	"github.com/jamesross/polyqueue/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkQueueConsumeOnceAcksOnSuccess(t *testing.T) {
	p := provider.NewInMemory("test")
	ctx := context.Background()
	require.NoError(t, p.Send(ctx, "q", queue.NewMessage("hello", queue.SendOptions{})))

	wq := NewWorkQueue(p, "q", zap.NewNop(), nil)
	var got string
	handled, err := wq.ConsumeOnce(ctx, time.Second, func(ctx context.Context, msg queue.Message) error {
		got = msg.Payload.(string)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "hello", got)

	info, err := p.QueueInfo(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Length)
}

func TestWorkQueueConsumeOnceRequeuesOnError(t *testing.T) {
	p := provider.NewInMemory("test")
	ctx := context.Background()
	require.NoError(t, p.Send(ctx, "q", queue.NewMessage("hello", queue.SendOptions{})))

	wq := NewWorkQueue(p, "q", zap.NewNop(), nil)
	_, err := wq.ConsumeOnce(ctx, time.Second, func(ctx context.Context, msg queue.Message) error {
		return errors.New("boom")
	})
	assert.Error(t, err)

	again, err := p.Receive(ctx, "q", time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "hello", again.Payload)
}

func TestWorkQueueConsumeOncePublishesNoWorkersAvailable(t *testing.T) {
	p := provider.NewInMemory("test")
	ctx := context.Background()
	require.NoError(t, p.Send(ctx, "q", queue.NewMessage("hello", queue.SendOptions{})))

	bus := eventbus.New(zap.NewNop())
	var events []string
	bus.Subscribe(EventNoWorkersAvailable, func(e eventbus.Event) { events = append(events, e.Name) })

	wq := NewWorkQueue(p, "q", zap.NewNop(), bus)
	wq.SetWorkerPicker(func() bool { return false })

	handled, err := wq.ConsumeOnce(ctx, time.Second, func(context.Context, queue.Message) error {
		t.Fatal("should not be called")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, []string{EventNoWorkersAvailable}, events)

	info, err := p.QueueInfo(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Length)
}

func TestWorkQueueConsumeOnceNoMessage(t *testing.T) {
	p := provider.NewInMemory("test")
	wq := NewWorkQueue(p, "q", zap.NewNop(), nil)
	handled, err := wq.ConsumeOnce(context.Background(), 10*time.Millisecond, func(context.Context, queue.Message) error {
		t.Fatal("should not be called")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, handled)
}
