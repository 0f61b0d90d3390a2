//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"shopauth/pkg/config"
	"shopauth/pkg/db"
)

// PostgresContainer wraps a testcontainers Postgres instance with the
// repository migrations applied.
type PostgresContainer struct {
	Container testcontainers.Container
	URL       string
	Pool      *pgxpool.Pool
}

// NewPostgresContainer starts Postgres, runs the migrations found at
// migrationsPath (a file:// URL) and opens a pool.
func NewPostgresContainer(t *testing.T, migrationsPath string) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("shopauth"),
		tcpostgres.WithUsername("shopauth"),
		tcpostgres.WithPassword("shopauth"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	cfg := config.Config{DatabaseURL: url}
	if err := db.Migrate(migrationsPath, cfg); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	pool, err := db.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return &PostgresContainer{Container: container, URL: url, Pool: pool}
}
