//go:build integration

package migrations

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	testPostgresImage = "postgres:15-alpine"
	testStartTimeout  = 90 * time.Second
)

// SetupPostgresContainer returns a migrated database in a throwaway
// container. Tests are skipped when no container runtime is reachable.
func SetupPostgresContainer(t *testing.T) *sql.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testStartTimeout)
	defer cancel()

	ctr, err := postgres.Run(ctx, testPostgresImage,
		postgres.WithDatabase("prdforge_test"),
		postgres.WithUsername("prdforge"),
		postgres.WithPassword("prdforge"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	applied, err := Run(ctx, db)
	require.NoError(t, err, "migrations failed")
	require.Len(t, applied, len(GetMigrations()))

	return db
}
