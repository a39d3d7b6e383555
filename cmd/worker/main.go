package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/app"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/posting"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.Config{
		DSN:             cfg.PGDSN,
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		ConnMaxLifetime: cfg.PGConnMaxLifetime,
	})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jm := jobmetrics.NewMetrics(metrics.Registerer())

	store := outbox.NewStore(pool)
	var publisher outbox.Publisher
	if cfg.PubSubProject != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSubProject)
		if err != nil {
			logger.Error("pubsub client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logger.Warn("pubsub close", slog.Any("error", err))
			}
		}()
		psPublisher, err := outbox.NewPubSubPublisher(psClient, cfg.PubSubTopic)
		if err != nil {
			logger.Error("pubsub publisher", slog.Any("error", err))
			os.Exit(1)
		}
		defer psPublisher.Stop()
		publisher = psPublisher
		logger.Info("outbox publisher: pubsub",
			slog.String("project", cfg.PubSubProject),
			slog.String("topic", cfg.PubSubTopic))
	} else {
		publisher = outbox.NewLogPublisher(logger)
		logger.Info("outbox publisher: log only")
	}

	dispatcher := outbox.NewDispatcher(store, publisher, redislock.New(redisClient), logger, outbox.DispatcherConfig{
		BatchSize:   cfg.OutboxBatchSize,
		Interval:    cfg.OutboxInterval,
		LockTTL:     cfg.OutboxLockTTL,
		MaxAttempts: cfg.OutboxMaxAttempts,
	})

	postingRepo := posting.NewRepository(pool)
	dispatchJob := jobs.NewOutboxDispatchJob(dispatcher, logger, jm)
	cleanupJob := jobs.NewIdempotencyCleanupJob(postingRepo, logger, jm, cfg.IdempotencyRetention)

	dispatchTask, err := jobs.NewOutboxDispatchTask(time.Now().UTC())
	if err != nil {
		logger.Error("build dispatch task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOutboxDispatch, Handler: dispatchJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every 1m", Task: dispatchTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "10 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewOpsRouter(app.OpsRouterParams{
		Logger:     logger,
		Config:     cfg,
		Pool:       pool,
		Redis:      redisClient,
		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    metrics,
	})
	server := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      router,
		ReadTimeout:  cfg.OpsReadTimeout,
		WriteTimeout: cfg.OpsWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting ops listener", slog.String("addr", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("starting worker",
			slog.Int("concurrency", cfg.WorkerConcurrency),
			slog.String("queue", jobs.QueueDefault))
		return worker.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
