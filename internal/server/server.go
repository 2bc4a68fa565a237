// Package server builds and runs the engine: it wires configuration, storage,
// providers, the worker, the scheduler, and the HTTP API into one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/api"
	"github.com/topicmesh/seo-engine/internal/clock/system"
	"github.com/topicmesh/seo-engine/internal/cluster"
	"github.com/topicmesh/seo-engine/internal/config"
	"github.com/topicmesh/seo-engine/internal/content"
	"github.com/topicmesh/seo-engine/internal/jobs"
	"github.com/topicmesh/seo-engine/internal/keywords"
	"github.com/topicmesh/seo-engine/internal/lighthouse"
	"github.com/topicmesh/seo-engine/internal/locks"
	"github.com/topicmesh/seo-engine/internal/logging"
	"github.com/topicmesh/seo-engine/internal/logs"
	"github.com/topicmesh/seo-engine/internal/pages"
	"github.com/topicmesh/seo-engine/internal/scheduler"
	"github.com/topicmesh/seo-engine/internal/services/dataforseo"
	"github.com/topicmesh/seo-engine/internal/services/openai"
	"github.com/topicmesh/seo-engine/internal/services/pagespeed"
	"github.com/topicmesh/seo-engine/internal/store"
	"github.com/topicmesh/seo-engine/internal/worker"
)

// App contains the application's long-lived dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	pool      *pgxpool.Pool
	redis     *redis.Client
	apiServer *api.Server
	worker    *worker.Worker
	scheduler *scheduler.Scheduler
}

// Build creates the application's dependencies. The database pool it opens
// has the schema migrations already applied.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	logger.Info("building application", zap.Int("port", cfg.Server.Port), zap.Bool("safe_mode", cfg.SafeMode))

	pool, err := store.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	app := &App{cfg: cfg, logger: logger, pool: pool, redis: redisClient}
	if err := app.buildServices(); err != nil {
		pool.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) buildServices() error {
	cfg := a.cfg
	clk := system.New()

	lease := time.Duration(cfg.Worker.LeaseTTLMinutes) * time.Minute
	jobStore, err := jobs.NewStoreWithPool(a.pool, lease, clk)
	if err != nil {
		return fmt.Errorf("job store init failed: %w", err)
	}
	logStore, err := logs.NewStoreWithPool(a.pool, clk)
	if err != nil {
		return fmt.Errorf("activity log init failed: %w", err)
	}
	pageStore, err := pages.NewPGWithPool(a.pool, clk)
	if err != nil {
		return fmt.Errorf("page store init failed: %w", err)
	}
	keywordStore, err := keywords.NewStoreWithPool(a.pool, clk)
	if err != nil {
		return fmt.Errorf("keyword store init failed: %w", err)
	}
	clusterStore, err := cluster.NewStoreWithPool(a.pool, clk)
	if err != nil {
		return fmt.Errorf("cluster store init failed: %w", err)
	}
	auditStore, err := lighthouse.NewStoreWithPool(a.pool, clk)
	if err != nil {
		return fmt.Errorf("lighthouse store init failed: %w", err)
	}

	locker := locks.NewManager(a.redis)
	scoreCache := locks.NewCache(a.redis, "cluster_score")

	keywordProvider := dataforseo.New(dataforseo.Config{
		Login:        cfg.DataForSEO.Login,
		Password:     cfg.DataForSEO.Password,
		LocationCode: cfg.DataForSEO.LocationCode,
		LanguageCode: cfg.DataForSEO.LanguageCode,
	}, a.logger.Named("dataforseo"))
	generator := openai.New(cfg.OpenAI.APIKey, "", a.logger.Named("openai"))
	auditor := pagespeed.New(cfg.PageSpeed.APIKey, "", a.logger.Named("pagespeed"))

	keywordEngine, err := keywords.NewEngine(keywords.EngineParams{
		Repo:     keywordStore,
		Pages:    pageStore,
		Provider: keywordProvider,
		Locker:   locker,
		Cache:    locks.NewCache(a.redis, "keywords"),
		Queue:    jobStore,
		Activity: logStore,
		Logger:   a.logger.Named("keywords"),
		Clock:    clk,
		Config:   cfg.Keywords,
		BaseURL:  cfg.Site.BaseURL,
		SafeMode: cfg.SafeMode,
	})
	if err != nil {
		return fmt.Errorf("keyword engine init failed: %w", err)
	}

	contentEngine, err := content.NewEngine(content.EngineParams{
		Pages:     pageStore,
		Generator: generator,
		Queue:     jobStore,
		Activity:  logStore,
		Logger:    a.logger.Named("content"),
		Clock:     clk,
		OpenAI:    cfg.OpenAI,
		SafeMode:  cfg.SafeMode,
		DryRun:    cfg.DryRun,
	})
	if err != nil {
		return fmt.Errorf("content engine init failed: %w", err)
	}

	linking, err := cluster.NewLinkingEngine(clusterStore, pageStore, cfg.Site.BaseURL, a.logger.Named("cluster"))
	if err != nil {
		return fmt.Errorf("linking engine init failed: %w", err)
	}
	scoreTTL := time.Duration(cfg.Clusters.ScoreCacheTTLMin) * time.Minute
	scoring, err := cluster.NewScoringEngine(clusterStore, linking, scoreCache, scoreTTL, a.logger.Named("cluster"))
	if err != nil {
		return fmt.Errorf("scoring engine init failed: %w", err)
	}
	advisor, err := cluster.NewAdvisor(clusterStore, linking, scoring)
	if err != nil {
		return fmt.Errorf("advisor init failed: %w", err)
	}
	injector, err := cluster.NewInjector(linking, scoring, pageStore, cfg.Clusters.MaxLinksPerPage, a.logger.Named("cluster"))
	if err != nil {
		return fmt.Errorf("injector init failed: %w", err)
	}

	auditEngine, err := lighthouse.NewEngine(lighthouse.EngineParams{
		Repo:        auditStore,
		Pages:       pageStore,
		Auditor:     auditor,
		Queue:       jobStore,
		Activity:    logStore,
		Logger:      a.logger.Named("lighthouse"),
		BaseURL:     cfg.Site.BaseURL,
		TargetLimit: cfg.Lighthouse.TargetLimit,
	})
	if err != nil {
		return fmt.Errorf("lighthouse engine init failed: %w", err)
	}

	a.worker, err = worker.New(worker.Params{
		Queue:     jobStore,
		Locker:    locker,
		Logger:    a.logger.Named("worker"),
		Clock:     clk,
		BatchSize: cfg.Worker.BatchSize,
		LockTTL:   time.Duration(cfg.Worker.LockTTLSeconds) * time.Second,
		Tick:      time.Duration(cfg.Worker.TickSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("worker init failed: %w", err)
	}
	a.worker.Register(jobs.TypeHealthcheck, healthcheckHandler(logStore, a.logger))
	a.worker.Register(jobs.TypeOptimizePost, contentEngine.RunOptimize)
	a.worker.Register(jobs.TypeKeywordCycle, keywordEngine.RunCycle)
	a.worker.Register(jobs.TypePageSpeedCycle, auditEngine.RunHealthCycle)
	a.worker.Register(jobs.TypeLighthouseScan, auditEngine.RunScan)

	a.scheduler, err = scheduler.New(scheduler.Params{
		Queue:    jobStore,
		Pages:    pageStore,
		Content:  contentEngine,
		Audits:   auditEngine,
		Activity: logStore,
		Logger:   a.logger.Named("scheduler"),
	})
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}

	a.apiServer, err = api.NewServer(api.Params{
		Queue:    jobStore,
		Runner:   a.worker,
		Keywords: keywordStore,
		Clusters: clusterStore,
		Analyzer: linking,
		Scorer:   scoring,
		Adviser:  advisor,
		Injector: injector,
		Audits:   auditStore,
		Activity: logStore,
		Pinger:   a.pool,
		Logger:   a.logger.Named("api"),
	})
	if err != nil {
		return fmt.Errorf("api init failed: %w", err)
	}
	return nil
}

type activityLog interface {
	Add(ctx context.Context, level, logContext, message string, data map[string]any) error
}

// healthcheckHandler records a heartbeat in the activity log so operators can
// confirm the queue is draining.
func healthcheckHandler(activity activityLog, logger *zap.Logger) worker.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		note := job.Payload.String("note")
		logger.Info("healthcheck", zap.Int64("job_id", job.ID), zap.String("note", note))
		if err := activity.Add(ctx, "info", "system", "Healthcheck", map[string]any{"note": note}); err != nil {
			logger.Warn("activity log write failed", zap.Error(err))
		}
		return nil
	}
}

// Run starts the worker, the scheduler, and the HTTP server, then blocks
// until the context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("worker started")
		a.worker.Run(ctx)
	}()
	go func() {
		a.logger.Info("scheduler started")
		a.scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close()
}

// Close releases the database pool and the Redis client.
func (a *App) Close() error {
	a.pool.Close()
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("redis close failed", zap.Error(err))
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}
