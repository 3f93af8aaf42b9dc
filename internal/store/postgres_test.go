//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The PostgreSQL tests truncate every table, so they only run against the
// database named by TEST_DATABASE_URL:
//
//	TEST_DATABASE_URL=postgres://localhost/zulip_test go test -tags integration ./internal/store
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	return url
}

func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()
	url := testDatabaseURL(t)

	require.NoError(t, RunMigrations(ctx, url))

	s, err := NewPostgresStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.pool.Exec(ctx, `
		TRUNCATE submessages, message_participants, messages, subscriptions, streams, users
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
	return s
}

func TestPostgres(t *testing.T) {
	runDataStoreTests(t, func(t *testing.T) DataStore {
		return newTestPostgres(t)
	})
}

func TestPostgres_RunMigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	url := testDatabaseURL(t)

	require.NoError(t, RunMigrations(ctx, url))
	require.NoError(t, RunMigrations(ctx, url))

	conn, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	require.NoError(t, err)
	applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
	require.NoError(t, err)

	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, names, applied)
}
