package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noah-isme/readmaster-api/internal/app"
	"github.com/noah-isme/readmaster-api/internal/config"
	"github.com/noah-isme/readmaster-api/internal/database"
	"github.com/noah-isme/readmaster-api/internal/logging"
)

func newRootCommand() *cobra.Command {
	var concurrency int

	rootCmd := &cobra.Command{
		Use:           "readmaster-worker",
		Short:         "Runs the reading assessment analysis workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(cmd.Context(), concurrency)
		},
	}
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Number of concurrent analysis workers (defaults to worker.concurrency)")

	rootCmd.AddCommand(newMigrateCommand())
	return rootCmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := database.ConnectPostgres(cfg.DatabaseURL, app.PoolOptions(cfg))
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := app.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func runWorkers(cmdCtx context.Context, concurrency int) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Service: "readmaster-worker"})

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn().Err(err).Msg("close resources")
		}
	}()

	// Result notifications raised here reach sockets held by API nodes only
	// through the cluster transports.
	if !container.Cluster.Enabled() {
		logger.Warn().Msg("no redis or nats configured, realtime notifications stay on this process")
	}

	pool := container.NewWorkerPool(concurrency)
	logger.Info().Msg("starting analysis workers")
	err = pool.Run(ctx)
	logger.Info().Msg("analysis workers stopped")
	return err
}
