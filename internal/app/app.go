// Package app wires the application: configuration, database pool, session
// store, model client, tool registry, and the agent. Commands call Setup and
// hang their runtime off the returned App.
package app

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldops/assistant/internal/agent"
	"github.com/fieldops/assistant/internal/config"
	"github.com/fieldops/assistant/internal/log"
	"github.com/fieldops/assistant/internal/session"
	"github.com/fieldops/assistant/internal/tools"
)

// App holds the initialized application components.
type App struct {
	Config       *config.Config
	Logger       log.Logger
	DBPool       *pgxpool.Pool
	SessionStore *session.Store
	Registry     *tools.Registry
	Agent        *agent.Agent

	maintenance *agent.Maintenance
}

// Close releases everything Setup initialized. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	var errs []error
	if a.maintenance != nil {
		a.maintenance.Close()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
	return errors.Join(errs...)
}
