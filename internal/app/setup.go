package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldops/assistant/internal/agent"
	"github.com/fieldops/assistant/internal/config"
	"github.com/fieldops/assistant/internal/llm"
	"github.com/fieldops/assistant/internal/log"
	"github.com/fieldops/assistant/internal/router"
	"github.com/fieldops/assistant/internal/session"
	"github.com/fieldops/assistant/internal/tools"
)

const poolConnectTimeout = 10 * time.Second

// systemPrompt frames the assistant for the field-service domain. Replies
// follow the user's language, which in practice is mostly Thai.
const systemPrompt = `You are the assistant for a field-service ticketing platform.
You help dispatchers and technicians search tickets, sites, companies, and
employees, plan service routes, and create or update work tickets.
Answer in the language the user writes in. Be concise and concrete; cite
ticket numbers and site names when you have them.`

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	a.SessionStore = session.NewStore(pool, logger)
	a.Registry = tools.DefaultRegistry()
	a.maintenance = agent.NewMaintenance(logger)

	client := llm.NewClient(llm.Config{
		BaseURL: cfg.ModelBaseURL,
		APIKey:  cfg.ModelAPIKey,
	}, logger)

	modelRouter := router.New(
		router.ModelConfig{
			Model:       cfg.MiniModel,
			MaxTokens:   cfg.MiniMaxTokens,
			Temperature: cfg.MiniTemperature,
		},
		router.ModelConfig{
			Model:       cfg.StandardModel,
			MaxTokens:   cfg.StandardMaxTokens,
			Temperature: cfg.StandardTemperature,
		},
	)

	a.Agent = agent.New(agent.Config{
		Client:       client,
		Router:       modelRouter,
		Store:        a.SessionStore,
		Registry:     a.Registry,
		Executor:     tools.NewHTTPExecutor(cfg.ToolServiceURL),
		Directory:    tools.NewHTTPDirectory(cfg.ToolServiceURL),
		Maintenance:  a.maintenance,
		Logger:       logger,
		SystemPrompt: systemPrompt,
		RecentTurns:  cfg.RecentTurnsToKeep,
	})

	return a, nil
}

// provideDBPool creates the PostgreSQL connection pool and verifies
// connectivity.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, poolConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
