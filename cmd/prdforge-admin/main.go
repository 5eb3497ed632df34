package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/prdforge/pkg/cli"
	"github.com/platinummonkey/prdforge/pkg/config"
	"github.com/platinummonkey/prdforge/pkg/credits"
	"github.com/platinummonkey/prdforge/pkg/observability"
	"github.com/platinummonkey/prdforge/pkg/storage/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	// Admin commands only ever touch the primary
	dbConfig := postgres.ConfigFromStorage(cfg.Storage)
	dbConfig.ReplicaURLs = nil

	retry := credits.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Credits.ReconcileMaxAttempts

	root := cli.NewRootCommand(cli.Options{
		Connect: func(ctx context.Context) (*sql.DB, error) {
			cm, err := postgres.NewConnectionManager(ctx, dbConfig, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}
			return cm.Primary(), nil
		},
		Retry:  retry,
		Logger: logger,
	})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
