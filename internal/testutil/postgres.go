// Package testutil provides shared test infrastructure, currently the
// PostgreSQL container harness used by the session store integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fieldops/assistant/db"
)

// TestDB wraps a PostgreSQL test container with a ready connection pool.
// The schema is current: migrations run before SetupTestDB returns.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB starts an isolated PostgreSQL container, runs migrations, and
// returns a pool connected to it. Cleanup is registered on tb automatically.
func SetupTestDB(tb testing.TB) *TestDB {
	tb.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("assistant_test"),
		postgres.WithUsername("assistant_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		tb.Fatalf("start postgres container: %v", err)
	}
	tb.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("container connection string: %v", err)
	}

	if err := db.Migrate(connStr); err != nil {
		tb.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		tb.Fatalf("create connection pool: %v", err)
	}
	tb.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		tb.Fatalf("ping database: %v", err)
	}

	return &TestDB{Container: container, Pool: pool, ConnStr: connStr}
}
