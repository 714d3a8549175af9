package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/compliscope/compliscope/internal/api"
	"github.com/compliscope/compliscope/internal/archive"
	"github.com/compliscope/compliscope/internal/auth"
	"github.com/compliscope/compliscope/internal/catalog"
	"github.com/compliscope/compliscope/internal/config"
	"github.com/compliscope/compliscope/internal/history"
	"github.com/compliscope/compliscope/internal/integrations"
	"github.com/compliscope/compliscope/internal/kv"
	"github.com/compliscope/compliscope/internal/migrations"
	"github.com/compliscope/compliscope/internal/monitor"
	"github.com/compliscope/compliscope/internal/notifications"
	"github.com/compliscope/compliscope/internal/queue"
	"github.com/compliscope/compliscope/internal/scheduler"
	"github.com/compliscope/compliscope/internal/service"
	"github.com/compliscope/compliscope/internal/settings"
)

// App is the assembled server process.
type App struct {
	logger    *slog.Logger
	server    *api.Server
	scheduler *scheduler.Scheduler
	workers   []*queue.Worker
	backlog   *monitor.Poller[queue.Stats]

	db  *sqlx.DB
	rdb *redis.Client
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	if cfg.Redis.Enabled {
		app.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := app.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
	}

	var repo kv.Repository
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		db, err := kv.Connect(kv.PostgresConfig{
			DSN:          cfg.Database.DSN(),
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return nil, err
		}
		app.db = db
		if err := migrations.Up(db.DB); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		repo = kv.NewPostgres(db)
	case config.StorageRedis:
		repo = kv.NewRedis(app.rdb, cfg.Storage.Namespace)
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		repo = kv.NewMemory()
	}

	catalogOpts := []catalog.CachedOption{catalog.WithLogger(logger)}
	if app.rdb != nil {
		catalogOpts = append(catalogOpts, catalog.WithRedis(app.rdb))
	}
	scenarios := catalog.NewCached(catalog.NewStatic(), catalog.CachedConfig{
		Latency:  cfg.Catalog.Latency,
		RedisTTL: cfg.Catalog.CacheTTL,
	}, catalogOpts...)

	webhooks := settings.NewWebhookStore(repo, logger)
	if err := webhooks.Init(ctx); err != nil {
		return nil, fmt.Errorf("loading webhooks: %w", err)
	}
	branding := settings.NewBrandingStore(repo)
	subscriptions := settings.NewSubscriptionStore(repo, nil)
	workday := integrations.NewWorkdayStore(repo, logger)

	seed := cfg.Integrations.Seed
	if seed == 0 {
		seed = integrations.Seed()
	}
	registry := integrations.NewRegistry(integrations.NewRand(seed),
		integrations.WithScanLimit(cfg.Integrations.ScanLimit),
		integrations.WithScanHook(integrations.ProviderWorkday, workday.Hook()),
		integrations.WithRegistryLogger(logger),
	)

	notifier := notifications.NewService(cfg.Notifications, logger)

	svc := service.New(service.Deps{
		Catalog:       scenarios,
		History:       history.NewStore(repo, logger),
		Branding:      branding,
		Subscriptions: subscriptions,
		Webhooks:      webhooks,
		Integrations:  registry,
		Notifier:      notifier,
		Logger:        logger,
	})

	var jobStore scheduler.Store = scheduler.NewMemoryStore()
	if app.db != nil {
		jobStore = scheduler.NewPostgresStore(app.db)
	}
	app.scheduler = scheduler.NewScheduler(jobStore, logger)
	svc.SchedulerHandlers().Register(app.scheduler)
	if err := app.scheduler.EnsureDefaults(ctx); err != nil {
		return nil, fmt.Errorf("creating default jobs: %w", err)
	}

	store, err := archive.New(ctx, cfg.Archive, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing archive: %w", err)
	}

	var exports api.ExportQueue
	if app.rdb != nil {
		q := queue.NewWithClient(app.rdb, queue.WithMaxAttempts(cfg.Exports.MaxAttempts))
		exports = q

		for i := 0; i < cfg.Exports.Workers; i++ {
			app.workers = append(app.workers, queue.NewWorker(queue.WorkerConfig{
				Queue:        q,
				Renderer:     svc,
				Archive:      store,
				Mailer:       notifier,
				Logger:       logger,
				URLExpiry:    cfg.Archive.URLExpiry,
				StaleTimeout: cfg.Exports.StaleTimeout,
			}))
		}

		app.backlog = monitor.New(q.Stats, app.logBacklog,
			monitor.WithInterval(cfg.Monitor.Interval),
			monitor.WithLogger(logger),
		)
	}

	app.server = api.NewServer(cfg.Server, api.Deps{
		Service:       svc,
		Auth:          auth.NewService(auth.Config{JWTSecret: cfg.Auth.JWTSecret, TokenExpiry: cfg.Auth.TokenExpiry, Issuer: cfg.Auth.Issuer}),
		Subscriptions: subscriptions,
		Branding:      branding,
		Webhooks:      webhooks,
		Integrations:  registry,
		Workday:       workday,
		Scheduler:     app.scheduler,
		Exports:       exports,
		Archive:       store,
		Ready:         app.ready,
	}, api.WithLogger(logger))

	ok = true
	return app, nil
}

func (a *App) logBacklog(stats queue.Stats, err error) {
	if err != nil {
		a.logger.Warn("reading export queue stats", "error", err)
		return
	}
	a.logger.Debug("export queue",
		"pending", stats.Pending,
		"processing", stats.Processing,
		"completed", stats.Completed,
		"failed", stats.Failed)
}

func (a *App) ready(ctx context.Context) error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.PingContext(ctx))
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Ping(ctx).Err())
	}
	return errors.Join(errs...)
}

// Run serves until ctx is cancelled, then stops the background loops.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		a.logger.Error("failed to start scheduler", "error", err)
	}
	defer a.scheduler.Stop()

	for _, w := range a.workers {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("starting export worker: %w", err)
		}
		defer w.Stop()
	}

	if a.backlog != nil {
		if err := a.backlog.Start(ctx); err != nil {
			return err
		}
		defer a.backlog.Stop()
	}

	return a.server.Run(ctx)
}

func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("closing database", "error", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("closing redis", "error", err)
		}
	}
}
