package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a PostgreSQL container for testing and applies the
// schema. Returns a cleanup function that must be called after tests
// complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	applySchema(t, ctx, pool)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// applySchema creates the trades table. The DDL is inlined rather than going
// through the migrations package to avoid an import cycle in tests.
func applySchema(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	schema := `
		CREATE TABLE IF NOT EXISTS trades (
			id             BIGSERIAL PRIMARY KEY,
			token          TEXT             NOT NULL,
			wallet         TEXT             NOT NULL DEFAULT '',
			side           TEXT             NOT NULL,
			base_amount    DOUBLE PRECISION NOT NULL,
			quote_amount   DOUBLE PRECISION NOT NULL,
			price          DOUBLE PRECISION NOT NULL,
			timestamp      BIGINT           NOT NULL,
			source         TEXT             NOT NULL,
			provenance_id  TEXT             NOT NULL,
			CONSTRAINT trades_source_provenance_unique UNIQUE (source, provenance_id),
			CONSTRAINT trades_side_check CHECK (side IN ('buy', 'sell'))
		)
	`
	_, err := pool.Exec(ctx, schema)
	require.NoError(t, err, "failed to apply schema")
}
