// Copyright 2025 James Ross
//
// Package manager implements the Queue Manager: the component producers and
// the rest of the system talk to for everyday send/receive and job
// submission. It owns the set of named queues (each bound to one configured
// Provider instance) and delegates every job-lifecycle question to the
// scheduler, which is the sole authoritative store of Job state — this
// package never keeps a second job table of its own.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jamesross/polyqueue/internal/eventbus"
	"github.com/jamesross/polyqueue/internal/obs"
	"github.com/jamesross/polyqueue/internal/provider"
	"github.com/jamesross/polyqueue/internal/queue"
	"github.com/jamesross/polyqueue/internal/scheduler"
	"go.uber.org/zap"
)

// QueueDescriptor records which provider instance backs a named queue.
type QueueDescriptor struct {
	Name     string
	Provider string
}

// Manager is the Queue Manager.
type Manager struct {
	log         *zap.Logger
	bus         *eventbus.Bus
	providers   *provider.Manager
	scheduler   *scheduler.Scheduler
	defaultProv string

	mu     sync.RWMutex
	queues map[string]QueueDescriptor
}

// New returns a ready-to-use Manager. defaultProvider names the provider
// instance used to auto-create a job type's queue the first time a job of
// that type is submitted.
func New(log *zap.Logger, bus *eventbus.Bus, providers *provider.Manager, sched *scheduler.Scheduler, defaultProvider string) *Manager {
	m := &Manager{
		log:         log,
		bus:         bus,
		providers:   providers,
		scheduler:   sched,
		defaultProv: defaultProvider,
		queues:      make(map[string]QueueDescriptor),
	}
	if bus != nil {
		bus.Subscribe(scheduler.EventRetryReady, m.onRetryReady)
	}
	return m
}

// CreateQueue binds a named queue to a configured provider instance.
func (m *Manager) CreateQueue(name, providerName string) (QueueDescriptor, error) {
	if providerName == "" {
		return QueueDescriptor{}, ErrProviderMissing
	}
	if _, err := m.providers.Get(providerName); err != nil {
		return QueueDescriptor{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.queues[name]; exists {
		return QueueDescriptor{}, fmt.Errorf("%w: %q", ErrQueueExists, name)
	}
	d := QueueDescriptor{Name: name, Provider: providerName}
	m.queues[name] = d
	return d, nil
}

// DeleteQueue removes a queue's binding. It does not touch messages already
// sitting in the provider's backing store.
func (m *Manager) DeleteQueue(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[name]; !ok {
		return fmt.Errorf("%w: %q", ErrQueueNotFound, name)
	}
	delete(m.queues, name)
	return nil
}

// Queues lists every known queue descriptor.
func (m *Manager) Queues() []QueueDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]QueueDescriptor, 0, len(m.queues))
	for _, d := range m.queues {
		out = append(out, d)
	}
	return out
}

// Providers lists every configured provider instance name.
func (m *Manager) Providers() []string {
	return m.providers.Names()
}

func (m *Manager) descriptor(name string) (QueueDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.queues[name]
	if !ok {
		return QueueDescriptor{}, fmt.Errorf("%w: %q", ErrQueueNotFound, name)
	}
	return d, nil
}

// ensureQueue returns the descriptor for name, auto-creating it against the
// default provider if it doesn't exist yet.
func (m *Manager) ensureQueue(name string) (QueueDescriptor, error) {
	if d, err := m.descriptor(name); err == nil {
		return d, nil
	}
	return m.CreateQueue(name, m.defaultProv)
}

func (m *Manager) providerFor(queueName string) (provider.Provider, error) {
	d, err := m.descriptor(queueName)
	if err != nil {
		return nil, err
	}
	return m.providers.Get(d.Provider)
}

// ProviderFor returns the Provider instance backing a named queue, for
// callers (such as the patterns layer) that need to drive it directly.
func (m *Manager) ProviderFor(queueName string) (provider.Provider, error) {
	return m.providerFor(queueName)
}

// Send enqueues payload onto a named queue, auto-creating the queue against
// the default provider on first use.
func (m *Manager) Send(ctx context.Context, queueName string, payload interface{}, opts queue.SendOptions) (queue.Message, error) {
	d, err := m.ensureQueue(queueName)
	if err != nil {
		return queue.Message{}, err
	}
	p, err := m.providers.Get(d.Provider)
	if err != nil {
		return queue.Message{}, err
	}

	msg := queue.NewMessage(payload, opts)
	if err := p.Send(ctx, queueName, msg); err != nil {
		return queue.Message{}, err
	}
	return msg, nil
}

// Receive waits up to timeout for a message on a named queue.
func (m *Manager) Receive(ctx context.Context, queueName string, timeout time.Duration) (*queue.Message, error) {
	p, err := m.providerFor(queueName)
	if err != nil {
		return nil, err
	}
	return p.Receive(ctx, queueName, timeout)
}

// Ack confirms successful processing of msg on queueName.
func (m *Manager) Ack(ctx context.Context, queueName string, msg queue.Message) error {
	p, err := m.providerFor(queueName)
	if err != nil {
		return err
	}
	return p.Ack(ctx, queueName, msg)
}

// Nack reports failed processing of msg on queueName.
func (m *Manager) Nack(ctx context.Context, queueName string, msg queue.Message, requeue bool) error {
	p, err := m.providerFor(queueName)
	if err != nil {
		return err
	}
	return p.Nack(ctx, queueName, msg, requeue)
}

// GetQueueInfo reports the current depth of a named queue.
func (m *Manager) GetQueueInfo(ctx context.Context, queueName string) (provider.QueueInfo, error) {
	p, err := m.providerFor(queueName)
	if err != nil {
		return provider.QueueInfo{}, err
	}
	return p.QueueInfo(ctx, queueName)
}

// SubmitJob registers a job with the scheduler and enqueues a reference
// message onto the job type's queue. The message payload is only the job
// ID: the scheduler remains the single source of truth for job state, so a
// Processor always re-fetches the current Job before acting on it.
func (m *Manager) SubmitJob(ctx context.Context, jobType string, data interface{}, opts queue.JobOptions) (queue.Job, error) {
	job, err := m.scheduler.Submit(jobType, data, opts)
	if err != nil {
		return queue.Job{}, err
	}

	queueName := queue.QueueName(jobType)
	sendOpts := queue.SendOptions{
		Priority:   int(job.Priority),
		MaxRetries: job.MaxRetries,
	}
	if job.ScheduledFor != nil {
		if d := time.Until(*job.ScheduledFor); d > 0 {
			sendOpts.Delay = d
		}
	}
	if _, err := m.Send(ctx, queueName, job.ID, sendOpts); err != nil {
		return queue.Job{}, err
	}
	return job, nil
}

// GetJobStatus returns the job's current state from the scheduler.
func (m *Manager) GetJobStatus(jobID string) (queue.Job, error) {
	return m.scheduler.Get(jobID)
}

// CancelJob cancels a job via the scheduler.
func (m *Manager) CancelJob(jobID string) (queue.Job, error) {
	return m.scheduler.Cancel(jobID)
}

// onRetryReady re-enqueues a job's reference message once its retry backoff
// has elapsed and the scheduler has flipped it back to Pending.
func (m *Manager) onRetryReady(e eventbus.Event) {
	job, ok := e.Data.(queue.Job)
	if !ok {
		return
	}
	queueName := queue.QueueName(job.Type)
	_, err := m.Send(context.Background(), queueName, job.ID, queue.SendOptions{
		Priority:   int(job.Priority),
		MaxRetries: job.MaxRetries,
	})
	if err != nil {
		m.log.Error("failed to re-enqueue retried job",
			zap.String("job_id", job.ID), zap.String("job_type", job.Type), zap.Error(err))
	}
}

// StartBackgroundTasks launches the periodic queue-length sampling loop,
// generalized from sampling a fixed Redis list depth to polling every
// configured queue across whatever provider backs it. It samples queue
// lengths only; provider health is not polled. It runs until ctx is
// cancelled.
func (m *Manager) StartBackgroundTasks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sampleQueues(ctx)
			}
		}
	}()
}

func (m *Manager) sampleQueues(ctx context.Context) {
	for _, d := range m.Queues() {
		info, err := m.GetQueueInfo(ctx, d.Name)
		if err != nil {
			m.log.Debug("queue length poll error", zap.String("queue", d.Name), zap.Error(err))
			continue
		}
		obs.QueueLength.WithLabelValues(info.Name).Set(float64(info.Length))
	}
}
