package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fieldops/assistant/db"
	"github.com/fieldops/assistant/internal/api"
	"github.com/fieldops/assistant/internal/app"
	"github.com/fieldops/assistant/internal/config"
	"github.com/fieldops/assistant/internal/log"
)

func newServeCmd() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "skip running database migrations on startup")
	return cmd
}

func runServe(skipMigrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	logger := log.New(log.Config{JSON: true})
	logger.Info("starting assistant server", "version", AppVersion)

	if !skipMigrate {
		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	server := api.NewServer(a.Agent, a.SessionStore, a.DBPool, api.ServerConfig{
		Addr:        cfg.ListenAddr,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	}, logger)

	return server.Run(ctx)
}
