// Copyright 2025 James Ross
//
// Package workerpool implements the Worker Pool Manager: a dynamically
// sized set of goroutines that pull jobs through a Processor, spread
// across the pool's configured job types by a pluggable Strategy, and
// auto-scaled between MinWorkers and MaxWorkers based on observed
// utilization. Grounded on the goroutine-per-worker lifecycle used by the
// original single-size worker pool, generalized to resize at runtime.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jamesross/polyqueue/internal/obs"
	"github.com/jamesross/polyqueue/internal/processor"
	"go.uber.org/zap"
)

// Options configures a Pool.
type Options struct {
	MinWorkers         int
	MaxWorkers         int
	ScaleInterval      time.Duration
	ScaleUpUtilization   float64 // add a worker when utilization exceeds this
	ScaleDownUtilization float64 // remove a worker when utilization drops below this
	PollTimeout        time.Duration
	IdleBackoff        time.Duration
	Strategy           Strategy
}

func (o *Options) setDefaults() {
	if o.MinWorkers <= 0 {
		o.MinWorkers = 1
	}
	if o.MaxWorkers < o.MinWorkers {
		o.MaxWorkers = o.MinWorkers
	}
	if o.ScaleInterval <= 0 {
		o.ScaleInterval = 5 * time.Second
	}
	if o.ScaleUpUtilization <= 0 {
		o.ScaleUpUtilization = 0.8
	}
	if o.ScaleDownUtilization <= 0 {
		o.ScaleDownUtilization = 0.2
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 2 * time.Second
	}
	if o.IdleBackoff <= 0 {
		o.IdleBackoff = 100 * time.Millisecond
	}
	if o.Strategy == nil {
		o.Strategy = &RoundRobinStrategy{}
	}
}

type worker struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Pool is the Worker Pool Manager for a set of job types.
type Pool struct {
	log      *zap.Logger
	proc     *processor.Processor
	jobTypes []string
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
	nextID  int
	load    Load
	running bool
}

// New returns a Pool ready to Start. jobTypes lists every job type this
// pool's workers poll; at least one is required.
func New(log *zap.Logger, proc *processor.Processor, jobTypes []string, opts Options) *Pool {
	opts.setDefaults()
	return &Pool{
		log:      log,
		proc:     proc,
		jobTypes: jobTypes,
		opts:     opts,
		workers:  make(map[string]*worker),
		load:     make(Load),
	}
}

// Start launches MinWorkers workers and the auto-scaling loop. It returns
// once the pool has been told to stop (ctx cancelled or Stop called).
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	for i := 0; i < p.opts.MinWorkers; i++ {
		p.addWorkerLocked()
	}
	p.mu.Unlock()

	p.autoscaleLoop(p.ctx)
}

// Stop cancels every worker and waits for them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	workers := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	for _, w := range workers {
		<-w.done
	}
}

// Size returns the current worker count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Utilization reports the fraction of workers currently busy processing a
// job, in [0,1].
func (p *Pool) Utilization() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) == 0 {
		return 0
	}
	busy := 0
	for _, n := range p.load {
		busy += n
	}
	return float64(busy) / float64(len(p.workers))
}

// addWorkerLocked starts a new worker goroutine. Caller must hold p.mu.
func (p *Pool) addWorkerLocked() {
	if len(p.workers) >= p.opts.MaxWorkers {
		return
	}
	id := fmt.Sprintf("worker-%d", p.nextID)
	p.nextID++

	wctx, cancel := context.WithCancel(p.ctx)
	w := &worker{id: id, cancel: cancel, done: make(chan struct{})}
	p.workers[id] = w

	go p.runWorker(wctx, w)
	obs.WorkerActive.Inc()
}

// removeWorkerLocked stops one worker. Caller must hold p.mu. It cancels
// the worker and deletes it from the workers map itself, which tells
// respawnIfCrashed that the exit was deliberate.
func (p *Pool) removeWorkerLocked() {
	if len(p.workers) <= p.opts.MinWorkers {
		return
	}
	for id, w := range p.workers {
		w.cancel()
		delete(p.workers, id)
		return
	}
}

func (p *Pool) runWorker(ctx context.Context, w *worker) {
	defer close(w.done)
	defer obs.WorkerActive.Dec()
	defer p.respawnIfCrashed(w)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.processOneTick(ctx, w)
	}
}

// respawnIfCrashed restores the configured worker count if this goroutine
// is exiting on its own panic rather than an explicit Stop/removeWorker
// cancellation — a crashed worker should not silently shrink the pool.
func (p *Pool) respawnIfCrashed(w *worker) {
	r := recover()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	if _, stillTracked := p.workers[w.id]; !stillTracked {
		// removeWorkerLocked already deleted it deliberately; nothing to do.
		return
	}
	delete(p.workers, w.id)
	if r == nil {
		return
	}
	p.log.Error("worker crashed, respawning", zap.String("worker_id", w.id), zap.Any("panic", r))
	p.addWorkerLocked()
}

func (p *Pool) processOneTick(ctx context.Context, w *worker) {
	jobType := p.opts.Strategy.Pick(p.jobTypes, p.loadSnapshot())
	if jobType == "" {
		time.Sleep(p.opts.IdleBackoff)
		return
	}

	p.markBusy(jobType, 1)
	handled, err := p.proc.ProcessOne(ctx, jobType, p.opts.PollTimeout)
	p.markBusy(jobType, -1)

	if err != nil {
		p.log.Debug("process attempt error", zap.String("job_type", jobType), zap.Error(err))
	}
	if !handled {
		time.Sleep(p.opts.IdleBackoff)
	}
}

func (p *Pool) markBusy(jobType string, delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.load[jobType] += delta
	if p.load[jobType] < 0 {
		p.load[jobType] = 0
	}
}

func (p *Pool) loadSnapshot() Load {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(Load, len(p.load))
	for k, v := range p.load {
		out[k] = v
	}
	return out
}

func (p *Pool) autoscaleLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.ScaleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.autoscaleTick()
		}
	}
}

func (p *Pool) autoscaleTick() {
	util := p.Utilization()
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case util > p.opts.ScaleUpUtilization && len(p.workers) < p.opts.MaxWorkers:
		p.addWorkerLocked()
	case util < p.opts.ScaleDownUtilization && len(p.workers) > p.opts.MinWorkers:
		p.removeWorkerLocked()
	}
}
