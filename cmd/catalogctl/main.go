package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rodworks/catalogsync/cmd/catalogctl/cli"
	"github.com/rodworks/catalogsync/internal/app"
	"github.com/rodworks/catalogsync/internal/imports"
	"github.com/rodworks/catalogsync/internal/platform/db"
	"github.com/rodworks/catalogsync/internal/publish"
	"github.com/rodworks/catalogsync/internal/publish/shopify"
	"github.com/rodworks/catalogsync/internal/versions"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "catalogctl:", err)
		os.Exit(1)
	}
}

func open(ctx context.Context) (*cli.Runtime, error) {
	if err := app.RequireLive(); err != nil {
		return nil, err
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	mapper, err := versions.NewMapper()
	if err != nil {
		pool.Close()
		return nil, err
	}

	runs := imports.NewRepository(pool)
	service := imports.NewService(runs, logger)
	queue := cli.NewJobsCLI(cfg.Redis().Asynq())

	return &cli.Runtime{
		Differ: imports.NewRunner(imports.RunnerConfig{
			Service:    service,
			Repository: runs,
			Mapper:     mapper,
			ChunkSize:  cfg.DiffChunkSize,
			Logger:     logger,
		}),
		Applier: imports.NewApplier(runs, versions.NewStore(versions.NewPGRepository(pool), logger, versions.WithAnnotator(versions.ProfileAnnotator(mapper))), mapper, logger),
		Publisher: publish.NewService(publish.ServiceConfig{
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
		}),
		Runs:  service,
		Queue: queue,
		Close: func() error {
			pool.Close()
			return queue.Close()
		},
	}, nil
}
