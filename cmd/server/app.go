package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/andr-235/fullstack-parser-sub002/internal/apiclient"
	"github.com/andr-235/fullstack-parser-sub002/internal/collection"
	"github.com/andr-235/fullstack-parser-sub002/internal/config"
	"github.com/andr-235/fullstack-parser-sub002/internal/events"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/graphapi"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/memory"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/metrics"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/postgres"
	redisstore "github.com/andr-235/fullstack-parser-sub002/internal/platform/redis"
	"github.com/andr-235/fullstack-parser-sub002/internal/queue"
	"github.com/andr-235/fullstack-parser-sub002/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
)

// application holds the wired components of one process.
type application struct {
	config *config.Config
	logger *slog.Logger

	db    *sql.DB
	redis *goredis.Client

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	tasks    store.TaskStore
	entities store.EntityRepository

	bus          *events.Bus
	manager      *queue.Manager
	orchestrator *collection.Orchestrator

	stopJanitor context.CancelFunc
	janitorDone sync.WaitGroup
}

// appOption customizes newApplication; tests use it to swap the transport.
type appOption func(*appDeps)

type appDeps struct {
	transport apiclient.Transport
}

func withTransport(t apiclient.Transport) appOption {
	return func(d *appDeps) { d.transport = t }
}

// newApplication connects the selected backends and wires the collector.
// Nothing is started; call start.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*application, error) {
	var deps appDeps
	for _, opt := range opts {
		opt(&deps)
	}

	app := &application{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	ready := false
	defer func() {
		if !ready {
			app.cleanup()
		}
	}()

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)

	var err error
	if cfg.NeedsDatabase() {
		app.db, err = setupAppDatabase(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
	}
	if cfg.TaskStore.Backend == "redis" {
		app.redis, err = setupRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
	}

	app.tasks, err = app.newTaskStore()
	if err != nil {
		return nil, err
	}
	app.entities, err = app.newEntityRepository()
	if err != nil {
		return nil, err
	}

	transport := deps.transport
	if transport == nil {
		transport = graphapi.NewClient(cfg.API.AccessToken,
			graphapi.WithBaseURL(cfg.API.BaseURL),
			graphapi.WithVersion(cfg.API.Version),
			graphapi.WithTimeout(cfg.API.Timeout),
			graphapi.WithLogger(logger),
		)
	}
	client, err := apiclient.New(transport, apiClientConfig(cfg.API), logger, apiclient.WithMetrics(app.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	app.bus = events.NewBus(logger)
	app.manager = queue.NewManager(app.bus, logger, queue.WithMetrics(app.metrics))
	if err = app.manager.RegisterQueue(cfg.Queue.Name, queueOptions(cfg.Queue)); err != nil {
		return nil, fmt.Errorf("failed to register queue: %w", err)
	}

	app.orchestrator, err = collection.NewOrchestrator(
		collection.Config{
			Queue:          cfg.Queue.Name,
			ChunkSize:      cfg.Collector.ChunkSize,
			Concurrency:    cfg.Collector.Concurrency,
			MaxIdentifiers: cfg.Collector.MaxIdentifiers,
			TTL:            cfg.TaskStore.TTL,
		},
		app.tasks,
		app.entities,
		client,
		app.manager,
		logger,
		collection.WithMetrics(app.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	if err = app.orchestrator.Register(app.manager); err != nil {
		return nil, fmt.Errorf("failed to register job handler: %w", err)
	}

	ready = true
	logger.Info("application initialized")
	return app, nil
}

func (app *application) newTaskStore() (store.TaskStore, error) {
	cfg := app.config.TaskStore
	switch cfg.Backend {
	case "redis":
		return redisstore.NewTaskStore(app.redis, cfg.TTL, app.logger, redisstore.WithKeyPrefix(cfg.KeyPrefix)), nil
	case "postgres":
		return postgres.NewTaskStore(app.db, app.logger, postgres.WithDefaultTTL(cfg.TTL)), nil
	case "memory":
		return memory.NewTaskStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown task store backend %q", cfg.Backend)
	}
}

func (app *application) newEntityRepository() (store.EntityRepository, error) {
	cfg := app.config.Repository
	switch cfg.Backend {
	case "postgres":
		return postgres.NewEntityStore(app.db, app.logger, postgres.WithUpsertChunkSize(cfg.UpsertChunkSize)), nil
	case "memory":
		return memory.NewEntityStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown repository backend %q", cfg.Backend)
	}
}

func apiClientConfig(cfg config.APIConfig) apiclient.Config {
	return apiclient.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxBatchSize:      cfg.MaxBatchSize,
		Retry: apiclient.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Multiplier:  cfg.Retry.Multiplier,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Breaker: apiclient.BreakerConfig{
			FailureRatio: cfg.Breaker.FailureRatio,
			MinRequests:  cfg.Breaker.MinRequests,
			Cooldown:     cfg.Breaker.Cooldown,
			Interval:     cfg.Breaker.Interval,
		},
	}
}

func queueOptions(cfg config.QueueConfig) queue.QueueOptions {
	return queue.QueueOptions{
		Concurrency: cfg.WorkerCount,
		Size:        cfg.QueueSize,
		Attempts:    cfg.Attempts,
		Backoff: queue.Backoff{
			Type:  queue.BackoffType(cfg.Backoff.Type),
			Delay: cfg.Backoff.Delay,
		},
		StallTimeout:  cfg.StallTimeout,
		StallInterval: cfg.StallCheckInterval,
		MaxStalled:    cfg.MaxStalled,
	}
}

// start launches the workers, re-enqueues jobs left over from a previous
// process and starts the janitor.
func (app *application) start(ctx context.Context) error {
	if err := app.manager.Start(); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	recovered, err := app.orchestrator.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}
	if recovered > 0 {
		app.logger.Info("recovered unfinished jobs", "count", recovered)
	}

	janitorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.stopJanitor = cancel
	app.janitorDone.Add(1)
	go func() {
		defer app.janitorDone.Done()
		app.orchestrator.RunJanitor(janitorCtx, app.config.Janitor.Interval, app.config.Janitor.Retention())
	}()
	return nil
}

// Run starts the workers and serves HTTP until ctx is cancelled.
func (app *application) Run(ctx context.Context) error {
	if err := app.start(ctx); err != nil {
		return err
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops the workers and releases connections. Jobs still running
// when the shutdown timeout passes are left for Recover on the next start.
func (app *application) cleanup() {
	if app.stopJanitor != nil {
		app.stopJanitor()
		app.janitorDone.Wait()
	}

	if app.manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		if err := app.manager.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			app.logger.Error("error stopping workers", "error", err)
		} else if err != nil {
			app.logger.Warn("workers did not stop in time, running jobs will be recovered on restart")
		}
		cancel()
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis connection", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
