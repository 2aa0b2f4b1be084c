// Copyright 2025 James Ross
package scheduler

import (
	"testing"
	"time"

	"github.com/jamesross/polyqueue/internal/eventbus"
	"github.com/jamesross/polyqueue/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler() *Scheduler {
	return New(Config{
		DefaultMaxRetries: 2,
		DefaultRetryDelay: 10 * time.Millisecond,
		MaxRetryDelay:     100 * time.Millisecond,
	}, zap.NewNop(), eventbus.New(zap.NewNop()))
}

func TestSubmitThenRunThenComplete(t *testing.T) {
	s := newTestScheduler()
	job, err := s.Submit("resize", nil, queue.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, job.Status)

	running, err := s.MarkRunning(job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRunning, running.Status)
	assert.NotNil(t, running.StartedAt)

	done, err := s.Complete(job.ID, "ok")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, done.Status)
	assert.Equal(t, "ok", done.Result)
}

func TestMarkRunningRejectsNonPending(t *testing.T) {
	s := newTestScheduler()
	job, _ := s.Submit("t", nil, queue.JobOptions{})
	_, err := s.MarkRunning(job.ID)
	require.NoError(t, err)

	_, err = s.MarkRunning(job.ID)
	assert.ErrorIs(t, err, ErrJobNotPending)
}

func TestFailRetriesThenExhausts(t *testing.T) {
	s := newTestScheduler()
	job, _ := s.Submit("t", nil, queue.JobOptions{MaxRetries: queue.Retries(1), RetryDelay: 5 * time.Millisecond})
	_, err := s.MarkRunning(job.ID)
	require.NoError(t, err)

	retried, err := s.Fail(job.ID, queue.JobError{Message: "boom"})
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRetry, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)

	require.Eventually(t, func() bool {
		j, err := s.Get(job.ID)
		return err == nil && j.Status == queue.StatusPending
	}, time.Second, 5*time.Millisecond)

	_, err = s.MarkRunning(job.ID)
	require.NoError(t, err)
	failed, err := s.Fail(job.ID, queue.JobError{Message: "boom again"})
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, failed.Status)
	assert.NotNil(t, failed.FailedAt)
}

func TestCancelPendingRevokesRetryTimer(t *testing.T) {
	s := newTestScheduler()
	job, _ := s.Submit("t", nil, queue.JobOptions{MaxRetries: queue.Retries(3), RetryDelay: time.Hour})
	_, err := s.MarkRunning(job.ID)
	require.NoError(t, err)
	_, err = s.Fail(job.ID, queue.JobError{Message: "x"})
	require.NoError(t, err)

	cancelled, err := s.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, cancelled.Status)

	time.Sleep(20 * time.Millisecond)
	j, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, j.Status)
}

func TestCancelTerminalFails(t *testing.T) {
	s := newTestScheduler()
	job, _ := s.Submit("t", nil, queue.JobOptions{})
	_, err := s.MarkRunning(job.ID)
	require.NoError(t, err)
	_, err = s.Complete(job.ID, nil)
	require.NoError(t, err)

	_, err = s.Cancel(job.ID)
	assert.ErrorIs(t, err, ErrJobTerminal)
}

func TestCancelRunningRefusedByCancel(t *testing.T) {
	s := newTestScheduler()
	job, _ := s.Submit("t", nil, queue.JobOptions{})
	_, err := s.MarkRunning(job.ID)
	require.NoError(t, err)

	_, err = s.Cancel(job.ID)
	assert.ErrorIs(t, err, ErrJobRunning)

	j, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRunning, j.Status)
}

func TestCancelRunningSucceedsViaCancelRunning(t *testing.T) {
	s := newTestScheduler()
	job, _ := s.Submit("t", nil, queue.JobOptions{})
	_, err := s.MarkRunning(job.ID)
	require.NoError(t, err)

	cancelled, err := s.CancelRunning(job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, cancelled.Status)
}

func TestCancelRunningRejectsNonRunning(t *testing.T) {
	s := newTestScheduler()
	job, _ := s.Submit("t", nil, queue.JobOptions{})

	_, err := s.CancelRunning(job.ID)
	assert.ErrorIs(t, err, ErrJobNotRunning)
}

func TestStats(t *testing.T) {
	s := newTestScheduler()
	a, _ := s.Submit("t", nil, queue.JobOptions{})
	b, _ := s.Submit("t", nil, queue.JobOptions{})
	_, _ = s.MarkRunning(a.ID)
	_, _ = s.Complete(a.ID, nil)
	_ = b

	st := s.Stats()
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Completed)
}

func TestSweepRemovesOldTerminalJobs(t *testing.T) {
	s := newTestScheduler()
	job, _ := s.Submit("t", nil, queue.JobOptions{})
	_, _ = s.MarkRunning(job.ID)
	_, _ = s.Complete(job.ID, nil)

	removed := s.Sweep(-time.Second) // everything counts as "older" than now+1s in the past
	assert.Equal(t, 1, removed)

	_, err := s.Get(job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEventsPublished(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	s := New(Config{DefaultMaxRetries: 1, DefaultRetryDelay: time.Millisecond}, zap.NewNop(), bus)

	var events []string
	bus.Subscribe(EventSubmitted, func(e eventbus.Event) { events = append(events, e.Name) })
	bus.Subscribe(EventStarted, func(e eventbus.Event) { events = append(events, e.Name) })
	bus.Subscribe(EventCompleted, func(e eventbus.Event) { events = append(events, e.Name) })

	job, _ := s.Submit("t", nil, queue.JobOptions{})
	_, _ = s.MarkRunning(job.ID)
	_, _ = s.Complete(job.ID, nil)

	assert.Equal(t, []string{EventSubmitted, EventStarted, EventCompleted}, events)
}
