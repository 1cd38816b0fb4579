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

	"golang.org/x/sync/errgroup"

	"github.com/rodworks/catalogsync/internal/app"
	"github.com/rodworks/catalogsync/internal/imports"
	jobmetrics "github.com/rodworks/catalogsync/internal/jobs"
	"github.com/rodworks/catalogsync/internal/observability"
	"github.com/rodworks/catalogsync/internal/platform/cache"
	"github.com/rodworks/catalogsync/internal/platform/db"
	"github.com/rodworks/catalogsync/internal/publish"
	"github.com/rodworks/catalogsync/internal/publish/shopify"
	"github.com/rodworks/catalogsync/internal/versions"
	"github.com/rodworks/catalogsync/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	mapper, err := versions.NewMapper()
	if err != nil {
		logger.Error("load category profiles", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	runMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	runs := imports.NewRepository(pool)
	service := imports.NewService(runs, logger)
	runner := imports.NewRunner(imports.RunnerConfig{
		Service:    service,
		Repository: runs,
		Mapper:     mapper,
		ChunkSize:  cfg.DiffChunkSize,
		Logger:     logger,
	})
	store := versions.NewStore(versions.NewPGRepository(pool), logger, versions.WithAnnotator(versions.ProfileAnnotator(mapper)))
	applyJob := imports.NewApplyJob(imports.ApplyJobConfig{
		Applier: imports.NewApplier(runs, store, mapper, logger),
		Locker:  cache.NewLocker(redisClient),
		LockTTL: cfg.ApplyLockTTL,
		Metrics: runMetrics,
		Logger:  logger,
	})
	diffJob := imports.NewDiffJob(runner, service, runMetrics, logger)

	publisher := publish.NewService(publish.ServiceConfig{
		Repository: publish.NewPGRepository(pool, runs),
		Platform: shopify.NewUpserter(shopify.UpserterConfig{
			Ledger:        shopify.NewPGLedger(pool),
			APIVersion:    cfg.ShopifyAPIVersion,
			RatePerSecond: cfg.ShopifyRatePerSec,
			Logger:        logger,
		}),
		DefaultSession:   cfg.DefaultSession(),
		ProgressInterval: cfg.PublishProgressInterval,
		Logger:           logger,
	})
	publishJob := publish.NewJob(publisher, runMetrics, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Redis().Asynq(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCatalogDiff, Handler: diffJob.Handle},
			{Type: jobs.TaskCatalogApply, Handler: applyJob.Handle},
			{Type: jobs.TaskCatalogPublish, Handler: publishJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("serving worker metrics", slog.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
