// Copyright 2025 James Ross
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.DefaultProvider)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "inmemory", cfg.Providers[0].Type)
	assert.Equal(t, 3, cfg.RetryPolicy.MaxRetries)
	assert.Equal(t, "round_robin", cfg.WorkerPool.Strategy)
}

func TestValidateRejectsNegativeMaxConcurrentJobs(t *testing.T) {
	cfg := defaultConfig()
	cfg.WorkerPool.MaxConcurrentJobs = -1
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsUnknownDefaultProvider(t *testing.T) {
	cfg := defaultConfig()
	cfg.DefaultProvider = "does-not-exist"
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsQueueWithUnknownProvider(t *testing.T) {
	cfg := defaultConfig()
	cfg.Queues["orders"] = QueueConfig{Provider: "missing"}
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsBadWorkerPoolBounds(t *testing.T) {
	cfg := defaultConfig()
	cfg.WorkerPool.MinWorkers = 0
	assert.Error(t, Validate(cfg))

	cfg = defaultConfig()
	cfg.WorkerPool.MaxWorkers = 1
	cfg.WorkerPool.MinWorkers = 2
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg := defaultConfig()
	cfg.WorkerPool.Strategy = "bogus"
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsBadMetricsPort(t *testing.T) {
	cfg := defaultConfig()
	cfg.Observability.MetricsPort = 0
	assert.Error(t, Validate(cfg))
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, Validate(defaultConfig()))
}
