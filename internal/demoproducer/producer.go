// Copyright 2025 James Ross
//
// Package demoproducer generates synthetic jobs at a steady rate, for
// exercising a running system without a real upstream client. It submits
// through the same Queue Manager entry point any other caller would use.
package demoproducer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/jamesross/polyqueue/internal/config"
	"github.com/jamesross/polyqueue/internal/manager"
	"github.com/jamesross/polyqueue/internal/obs"
	"github.com/jamesross/polyqueue/internal/queue"
	"go.uber.org/zap"
)

// Producer submits synthetic jobs at a configured rate.
type Producer struct {
	cfg *config.DemoProducerConfig
	mgr *manager.Manager
	log *zap.Logger
}

// New returns a Producer bound to mgr, driven by cfg.
func New(cfg *config.DemoProducerConfig, mgr *manager.Manager, log *zap.Logger) *Producer {
	return &Producer{cfg: cfg, mgr: mgr, log: log}
}

// Run submits jobs of cfg.JobType at cfg.RatePerSec until ctx is cancelled.
// A non-positive RatePerSec or a disabled config is a no-op.
func (p *Producer) Run(ctx context.Context) error {
	if !p.cfg.Enabled || p.cfg.RatePerSec <= 0 {
		return nil
	}

	ticker := time.NewTicker(time.Second / time.Duration(p.cfg.RatePerSec))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.submitOne(ctx); err != nil {
				p.log.Warn("demo job submission failed", zap.Error(err))
			}
		}
	}
}

func (p *Producer) submitOne(ctx context.Context) error {
	job, err := p.mgr.SubmitJob(ctx, p.cfg.JobType, map[string]string{"marker": randID()}, queue.JobOptions{})
	if err != nil {
		return err
	}
	obs.JobsProduced.Inc()
	p.log.Debug("submitted demo job", zap.String("job_id", job.ID), zap.String("type", job.Type))
	return nil
}

func randID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
