package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"applyflow/cmd/server/config"
	applicationsdb "applyflow/internal/db/applications"
	"applyflow/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "applyflow: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:   "applyflow",
		Short: "Job application submission service",
		Long: `applyflow accepts job applications, stores the candidate CV and
publishes the resulting events.

Without a subcommand it runs the API, gRPC health and metrics servers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(envFiles...)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), runServe)
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the API, gRPC health and metrics servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), runServe)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the application and saga tables, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), runMigrate)
		},
	})
	return root
}

// withRuntime loads configuration and the logger before handing off to fn.
func withRuntime(ctx context.Context, fn func(context.Context, config.Config, *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON, Output: os.Stderr})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	return fn(ctx, cfg, logger)
}

func runMigrate(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Postgres.URL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	stores, err := applicationsdb.Open(ctx, cfg.Postgres.URL, applicationsdb.PoolConfig{MaxOpenConns: 1})
	if err != nil {
		return err
	}
	logger.Info("schema ready")
	return stores.Close()
}
