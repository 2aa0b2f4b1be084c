// Copyright 2025 James Ross
package manager

import (
	"context"
	"testing"
	"time"

	"github.com/jamesross/polyqueue/internal/eventbus"
	"github.com/jamesross/polyqueue/internal/provider"
	"github.com/jamesross/polyqueue/internal/queue"
	"github.com/jamesross/polyqueue/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(provider.TypeInMemory, provider.InMemoryFactory{})
	pm := provider.NewManager(reg)
	_, err := pm.Add(provider.TypeInMemory, "primary", nil)
	require.NoError(t, err)

	bus := eventbus.New(zap.NewNop())
	sched := scheduler.New(scheduler.Config{
		DefaultMaxRetries: 2,
		DefaultRetryDelay: 5 * time.Millisecond,
		MaxRetryDelay:     50 * time.Millisecond,
	}, zap.NewNop(), bus)

	return New(zap.NewNop(), bus, pm, sched, "primary")
}

func TestCreateQueueAndSendReceive(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateQueue("orders", "primary")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.Send(ctx, "orders", "hello", queue.SendOptions{})
	require.NoError(t, err)

	got, err := m.Receive(ctx, "orders", time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Payload)
	require.NoError(t, m.Ack(ctx, "orders", *got))
}

func TestCreateQueueRejectsDuplicateAndUnknownProvider(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateQueue("orders", "primary")
	require.NoError(t, err)

	_, err = m.CreateQueue("orders", "primary")
	assert.ErrorIs(t, err, ErrQueueExists)

	_, err = m.CreateQueue("other", "does-not-exist")
	assert.Error(t, err)
}

func TestSubmitJobAutoCreatesQueueAndDelivers(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job, err := m.SubmitJob(ctx, "resize", map[string]any{"path": "a.jpg"}, queue.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, job.Status)

	msg, err := m.Receive(ctx, queue.QueueName("resize"), time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, job.ID, msg.Payload)

	status, err := m.GetJobStatus(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, status.ID)
}

func TestRetryReadyReenqueuesJob(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job, err := m.SubmitJob(ctx, "resize", nil, queue.JobOptions{MaxRetries: queue.Retries(1), RetryDelay: 5 * time.Millisecond})
	require.NoError(t, err)

	first, err := m.Receive(ctx, queue.QueueName("resize"), time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = m.scheduler.MarkRunning(job.ID)
	require.NoError(t, err)
	_, err = m.scheduler.Fail(job.ID, queue.JobError{Message: "boom"})
	require.NoError(t, err)

	second, err := m.Receive(ctx, queue.QueueName("resize"), time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, job.ID, second.Payload)
}

func TestCancelJobRefusesRunningJob(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job, err := m.SubmitJob(ctx, "resize", nil, queue.JobOptions{})
	require.NoError(t, err)

	_, err = m.scheduler.MarkRunning(job.ID)
	require.NoError(t, err)

	_, err = m.CancelJob(job.ID)
	assert.ErrorIs(t, err, scheduler.ErrJobRunning)
}

func TestGetStats(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateQueue("orders", "primary")
	require.NoError(t, err)

	st := m.GetStats(context.Background())
	assert.Contains(t, st.Providers, "primary")
	assert.Contains(t, st.Queues, "orders")
}
