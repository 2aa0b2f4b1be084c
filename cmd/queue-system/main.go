// Copyright 2025 James Ross
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jamesross/polyqueue/internal/admin"
	"github.com/jamesross/polyqueue/internal/breaker"
	"github.com/jamesross/polyqueue/internal/config"
	"github.com/jamesross/polyqueue/internal/demoproducer"
	"github.com/jamesross/polyqueue/internal/eventbus"
	"github.com/jamesross/polyqueue/internal/manager"
	"github.com/jamesross/polyqueue/internal/obs"
	"github.com/jamesross/polyqueue/internal/processor"
	"github.com/jamesross/polyqueue/internal/provider"
	"github.com/jamesross/polyqueue/internal/queue"
	"github.com/jamesross/polyqueue/internal/reaper"
	"github.com/jamesross/polyqueue/internal/scheduler"
	"github.com/jamesross/polyqueue/internal/workerpool"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var adminCmd string
	var adminQueue string
	var adminN int
	var adminYes bool
	var benchJobType string
	var benchCount int
	var benchRate int
	var benchTimeout time.Duration
	var showVersion bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "all", "Role to run: producer|worker|all|admin")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&adminCmd, "admin-cmd", "", "Admin command: stats|peek|purge|bench|cancel|status|watch")
	fs.StringVar(&adminQueue, "queue", "", "Queue name, or job ID for status/cancel")
	fs.IntVar(&adminN, "n", 10, "Number of items for admin peek")
	fs.BoolVar(&adminYes, "yes", false, "Automatic yes to prompts (dangerous operations)")
	fs.StringVar(&benchJobType, "bench-job-type", "demo", "Admin bench: job type to submit")
	fs.IntVar(&benchCount, "bench-count", 1000, "Admin bench: number of jobs")
	fs.IntVar(&benchRate, "bench-rate", 500, "Admin bench: submission rate jobs/sec")
	fs.DurationVar(&benchTimeout, "bench-timeout", 60*time.Second, "Admin bench: timeout to wait for completion")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", zap.Error(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		logger.Fatal("failed to build providers", zap.Error(err))
	}
	defer providers.Close()

	bus := eventbus.New(logger)
	sched := scheduler.New(scheduler.Config{
		DefaultMaxRetries:  cfg.RetryPolicy.MaxRetries,
		DefaultRetryDelay:  cfg.RetryPolicy.RetryDelay,
		MaxRetryDelay:      cfg.RetryPolicy.MaxRetryDelay,
		ExponentialBackoff: cfg.RetryPolicy.ExponentialBackoff,
	}, logger, bus)
	mgr := manager.New(logger, bus, providers, sched, cfg.DefaultProvider)

	if err := bindQueues(mgr, cfg); err != nil {
		logger.Fatal("failed to bind configured queues", zap.Error(err))
	}

	breakers := breaker.NewRegistry(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.ResetTimeout)
	proc := processor.New(logger, mgr, sched, breakers, cfg.WorkerPool.MaxConcurrentJobs)
	proc.RegisterHandler(cfg.DemoProducer.JobType, func(ctx context.Context, job queue.Job) (interface{}, error) {
		logger.Info("processed demo job", zap.String("job_id", job.ID))
		return nil, nil
	})

	adm := admin.New(mgr, sched, breakers, logger, bus)

	if role != "admin" {
		readyCheck := func(c context.Context) error {
			for name, h := range providers.HealthCheck(c) {
				if h.Status == provider.HealthUnhealthy {
					return fmt.Errorf("provider %q unhealthy: %s", name, h.Message)
				}
			}
			return nil
		}
		httpSrv := obs.StartHTTPServer(cfg, readyCheck)
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", zap.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	if role != "admin" {
		if cfg.Monitoring.Enabled {
			mgr.StartBackgroundTasks(ctx, cfg.Monitoring.MetricsInterval)
		}
		rep := reaper.New(sched, logger, 5*time.Second, 2*time.Minute)
		go rep.Run(ctx)
		go obs.SampleBreakerStates(ctx, breakers, 5*time.Second)
	}

	switch role {
	case "producer":
		prod := demoproducer.New(&cfg.DemoProducer, mgr, logger)
		if err := prod.Run(ctx); err != nil {
			logger.Fatal("producer error", zap.Error(err))
		}
	case "worker":
		runWorkerPool(ctx, logger, proc, cfg)
	case "all":
		prod := demoproducer.New(&cfg.DemoProducer, mgr, logger)
		go func() {
			if err := prod.Run(ctx); err != nil {
				logger.Error("producer error", zap.Error(err))
				cancel()
			}
		}()
		runWorkerPool(ctx, logger, proc, cfg)
	case "admin":
		runAdmin(ctx, adm, logger, adminCmd, adminQueue, adminN, adminYes, benchJobType, benchCount, benchRate, benchTimeout)
	default:
		logger.Fatal("unknown role", zap.String("role", role))
	}
}

// buildProviders constructs one live provider instance per entry in
// cfg.Providers, backed by the package-wide backend registry every
// provider type self-registers into.
func buildProviders(cfg *config.Config) (*provider.Manager, error) {
	mgr := provider.NewManager(provider.DefaultRegistry())
	for _, pc := range cfg.Providers {
		if _, err := mgr.Add(pc.Type, pc.Name, pc.Config); err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
	}
	return mgr, nil
}

// bindQueues creates every queue named in cfg.Queues against its configured
// provider up front, so operators see a complete queue list even before
// traffic auto-creates the rest.
func bindQueues(mgr *manager.Manager, cfg *config.Config) error {
	for name, qc := range cfg.Queues {
		if _, err := mgr.CreateQueue(name, qc.Provider); err != nil {
			return fmt.Errorf("queue %q: %w", name, err)
		}
	}
	return nil
}

func strategyFor(name string) workerpool.Strategy {
	switch name {
	case "least_loaded":
		return &workerpool.LeastLoadedStrategy{}
	case "random":
		return &workerpool.RandomStrategy{}
	default:
		return &workerpool.RoundRobinStrategy{}
	}
}

func runWorkerPool(ctx context.Context, logger *zap.Logger, proc *processor.Processor, cfg *config.Config) {
	jobTypes := []string{cfg.DemoProducer.JobType}
	pool := workerpool.New(logger, proc, jobTypes, workerpool.Options{
		MinWorkers:           cfg.WorkerPool.MinWorkers,
		MaxWorkers:           cfg.WorkerPool.MaxWorkers,
		ScaleInterval:        cfg.WorkerPool.ScaleInterval,
		ScaleUpUtilization:   cfg.WorkerPool.ScaleUpUtilization,
		ScaleDownUtilization: cfg.WorkerPool.ScaleDownUtilization,
		PollTimeout:          cfg.WorkerPool.PollTimeout,
		Strategy:             strategyFor(cfg.WorkerPool.Strategy),
	})
	pool.Start(ctx)
}

func runAdmin(ctx context.Context, adm *admin.Admin, logger *zap.Logger, cmd, queueName string, n int, yes bool, benchJobType string, benchCount, benchRate int, benchTimeout time.Duration) {
	switch cmd {
	case "stats":
		printJSON(adm.Stats(ctx))
	case "peek":
		if queueName == "" {
			logger.Fatal("admin peek requires --queue")
		}
		res, err := adm.Peek(ctx, queueName, int64(n))
		if err != nil {
			logger.Fatal("admin peek error", zap.Error(err))
		}
		printJSON(res)
	case "purge":
		if queueName == "" {
			logger.Fatal("admin purge requires --queue")
		}
		if !yes {
			logger.Fatal("refusing to purge without --yes")
		}
		purged, err := adm.PurgeQueue(ctx, queueName)
		if err != nil {
			logger.Fatal("admin purge error", zap.Error(err))
		}
		printJSON(struct {
			Purged int64 `json:"purged"`
		}{Purged: purged})
	case "status":
		if queueName == "" {
			logger.Fatal("admin status requires --queue as a job ID")
		}
		job, err := adm.JobStatus(queueName)
		if err != nil {
			logger.Fatal("admin status error", zap.Error(err))
		}
		printJSON(job)
	case "cancel":
		if queueName == "" {
			logger.Fatal("admin cancel requires --queue as a job ID")
		}
		job, err := adm.CancelJob(queueName)
		if err != nil {
			logger.Fatal("admin cancel error", zap.Error(err))
		}
		printJSON(job)
	case "bench":
		res, err := adm.Bench(ctx, benchJobType, benchCount, benchRate, benchTimeout)
		if err != nil {
			logger.Fatal("admin bench error", zap.Error(err))
		}
		printJSON(res)
	case "watch":
		unsub := adm.WatchJobs("cli", func(c context.Context, msg queue.Message) error {
			printJSON(msg.Payload)
			return nil
		})
		defer unsub()
		<-ctx.Done()
	default:
		logger.Fatal("unknown admin command", zap.String("cmd", cmd))
	}
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
