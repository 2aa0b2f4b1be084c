// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProviderConfig names one configured Provider instance and the
// backend-specific settings it's constructed from.
type ProviderConfig struct {
	Name   string                 `mapstructure:"name"`
	Type   string                 `mapstructure:"type"`
	Config map[string]interface{} `mapstructure:"config"`
}

// QueueOptions carries per-queue settings parsed from configuration. They
// are loaded but not applied: queue binding and message sending ignore them.
type QueueOptions struct {
	Priority   int `mapstructure:"priority"`
	MaxRetries int `mapstructure:"max_retries"`
}

// QueueConfig binds a named queue to one of the configured providers.
type QueueConfig struct {
	Provider string       `mapstructure:"provider"`
	Options  QueueOptions `mapstructure:"options"`
}

// RetryPolicy is the scheduler-wide default applied to jobs that don't
// specify their own.
type RetryPolicy struct {
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	ExponentialBackoff bool          `mapstructure:"exponential_backoff"`
	MaxRetryDelay      time.Duration `mapstructure:"max_retry_delay"`
}

// Monitoring controls the Queue Manager's background sampling loop.
type Monitoring struct {
	Enabled             bool          `mapstructure:"enabled"`
	MetricsInterval     time.Duration `mapstructure:"metrics_interval"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// CircuitBreakerConfig controls the per-job-type breaker the Job Processor
// consults before attempting a handler.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// WorkerPoolConfig controls the Worker Pool Manager's sizing and
// load-balancing behavior.
type WorkerPoolConfig struct {
	MinWorkers           int           `mapstructure:"min_workers"`
	MaxWorkers           int           `mapstructure:"max_workers"`
	ScaleInterval        time.Duration `mapstructure:"scale_interval"`
	ScaleUpUtilization   float64       `mapstructure:"scale_up_utilization"`
	ScaleDownUtilization float64       `mapstructure:"scale_down_utilization"`
	PollTimeout          time.Duration `mapstructure:"poll_timeout"`
	Strategy             string        `mapstructure:"strategy"` // round_robin | least_loaded | random
	MaxConcurrentJobs    int           `mapstructure:"max_concurrent_jobs"`
}

// DemoProducerConfig controls the optional synthetic job generator used for
// local testing and demos.
type DemoProducerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	JobType    string `mapstructure:"job_type"`
	RatePerSec int    `mapstructure:"rate_per_sec"`
}

type TracingConfig struct {
	Enabled               bool              `mapstructure:"enabled"`
	Endpoint              string            `mapstructure:"endpoint"`
	Environment           string            `mapstructure:"environment"`
	SamplingStrategy      string            `mapstructure:"sampling_strategy"`
	SamplingRate          float64           `mapstructure:"sampling_rate"`
	BatchTimeout          time.Duration     `mapstructure:"batch_timeout"`
	MaxExportBatchSize    int               `mapstructure:"max_export_batch_size"`
	Headers               map[string]string `mapstructure:"headers"`
	Insecure              bool              `mapstructure:"insecure"`
	PropagationFormat     string            `mapstructure:"propagation_format"`
	AttributeAllowlist    []string          `mapstructure:"attribute_allowlist"`
	RedactSensitive       bool              `mapstructure:"redact_sensitive"`
	EnableMetricExemplars bool              `mapstructure:"enable_metric_exemplars"`
}

type ObservabilityConfig struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// Config is the full system configuration: which providers exist, which
// queues are bound to them, and the ambient policy every other component
// reads its defaults from.
type Config struct {
	DefaultProvider string                 `mapstructure:"default_provider"`
	Providers       []ProviderConfig       `mapstructure:"providers"`
	Queues          map[string]QueueConfig `mapstructure:"queues"`

	RetryPolicy    RetryPolicy          `mapstructure:"retry_policy"`
	Monitoring     Monitoring           `mapstructure:"monitoring"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	WorkerPool     WorkerPoolConfig     `mapstructure:"worker_pool"`
	DemoProducer   DemoProducerConfig   `mapstructure:"demo_producer"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		DefaultProvider: "primary",
		Providers: []ProviderConfig{
			{Name: "primary", Type: "inmemory"},
		},
		Queues: map[string]QueueConfig{},
		RetryPolicy: RetryPolicy{
			MaxRetries:         3,
			RetryDelay:         500 * time.Millisecond,
			ExponentialBackoff: true,
			MaxRetryDelay:      30 * time.Second,
		},
		Monitoring: Monitoring{
			Enabled:             true,
			MetricsInterval:     5 * time.Second,
			HealthCheckInterval: 10 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		WorkerPool: WorkerPoolConfig{
			MinWorkers:           2,
			MaxWorkers:           16,
			ScaleInterval:        5 * time.Second,
			ScaleUpUtilization:   0.8,
			ScaleDownUtilization: 0.2,
			PollTimeout:          2 * time.Second,
			Strategy:             "round_robin",
			MaxConcurrentJobs:    32,
		},
		DemoProducer: DemoProducerConfig{
			Enabled:    false,
			JobType:    "demo",
			RatePerSec: 5,
		},
		Observability: ObservabilityConfig{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     TracingConfig{Enabled: false},
		},
	}
}

// Load reads configuration from a YAML file, with env var overrides and
// built-in defaults filling in anything left unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("default_provider", def.DefaultProvider)
	v.SetDefault("providers", def.Providers)
	v.SetDefault("queues", def.Queues)

	v.SetDefault("retry_policy.max_retries", def.RetryPolicy.MaxRetries)
	v.SetDefault("retry_policy.retry_delay", def.RetryPolicy.RetryDelay)
	v.SetDefault("retry_policy.exponential_backoff", def.RetryPolicy.ExponentialBackoff)
	v.SetDefault("retry_policy.max_retry_delay", def.RetryPolicy.MaxRetryDelay)

	v.SetDefault("monitoring.enabled", def.Monitoring.Enabled)
	v.SetDefault("monitoring.metrics_interval", def.Monitoring.MetricsInterval)
	v.SetDefault("monitoring.health_check_interval", def.Monitoring.HealthCheckInterval)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.reset_timeout", def.CircuitBreaker.ResetTimeout)

	v.SetDefault("worker_pool.min_workers", def.WorkerPool.MinWorkers)
	v.SetDefault("worker_pool.max_workers", def.WorkerPool.MaxWorkers)
	v.SetDefault("worker_pool.scale_interval", def.WorkerPool.ScaleInterval)
	v.SetDefault("worker_pool.scale_up_utilization", def.WorkerPool.ScaleUpUtilization)
	v.SetDefault("worker_pool.scale_down_utilization", def.WorkerPool.ScaleDownUtilization)
	v.SetDefault("worker_pool.poll_timeout", def.WorkerPool.PollTimeout)
	v.SetDefault("worker_pool.strategy", def.WorkerPool.Strategy)
	v.SetDefault("worker_pool.max_concurrent_jobs", def.WorkerPool.MaxConcurrentJobs)

	v.SetDefault("demo_producer.enabled", def.DemoProducer.Enabled)
	v.SetDefault("demo_producer.job_type", def.DemoProducer.JobType)
	v.SetDefault("demo_producer.rate_per_sec", def.DemoProducer.RatePerSec)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.DefaultProvider == "" {
		return fmt.Errorf("default_provider must be set")
	}
	names := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == "" || p.Type == "" {
			return fmt.Errorf("providers entries require both name and type")
		}
		names[p.Name] = true
	}
	if !names[cfg.DefaultProvider] {
		return fmt.Errorf("default_provider %q is not among providers", cfg.DefaultProvider)
	}
	for qname, q := range cfg.Queues {
		if q.Provider == "" {
			return fmt.Errorf("queue %q: provider must be set", qname)
		}
		if !names[q.Provider] {
			return fmt.Errorf("queue %q: provider %q is not configured", qname, q.Provider)
		}
	}
	if cfg.RetryPolicy.MaxRetries < 0 {
		return fmt.Errorf("retry_policy.max_retries must be >= 0")
	}
	if cfg.WorkerPool.MinWorkers < 1 {
		return fmt.Errorf("worker_pool.min_workers must be >= 1")
	}
	if cfg.WorkerPool.MaxWorkers < cfg.WorkerPool.MinWorkers {
		return fmt.Errorf("worker_pool.max_workers must be >= min_workers")
	}
	if cfg.WorkerPool.MaxConcurrentJobs < 0 {
		return fmt.Errorf("worker_pool.max_concurrent_jobs must be >= 0")
	}
	switch cfg.WorkerPool.Strategy {
	case "round_robin", "least_loaded", "random":
	default:
		return fmt.Errorf("worker_pool.strategy must be one of round_robin, least_loaded, random")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
