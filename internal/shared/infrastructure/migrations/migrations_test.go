package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database/sqlite"
)

func newConn(t *testing.T) database.Connection {
	t.Helper()
	conn, err := sqlite.NewConnection(context.Background(), database.Config{
		SQLitePath: filepath.Join(t.TempDir(), "migrations_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func appliedCount(t *testing.T, conn database.Connection) int {
	t.Helper()
	var n int
	err := conn.QueryRow(context.Background(), `SELECT COUNT(*) FROM schema_migrations`).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestRun_AppliesAllVersionsInOrder(t *testing.T) {
	conn := newConn(t)
	require.NoError(t, Run(context.Background(), conn))

	rows, err := conn.Query(context.Background(), `SELECT version FROM schema_migrations ORDER BY version`)
	require.NoError(t, err)
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int{1, 2, 3}, versions)

	// The core tables exist.
	for _, table := range []string{"accounts", "canonical_events", "constraints", "vip_policies", "time_allocations", "commitments", "onboarding_sessions", "mirror_outbox"} {
		var n int
		err := conn.QueryRow(context.Background(), `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "missing table %s", table)
	}
}

func TestRun_Idempotent(t *testing.T) {
	conn := newConn(t)
	require.NoError(t, Run(context.Background(), conn))
	first := appliedCount(t, conn)

	require.NoError(t, Run(context.Background(), conn))
	assert.Equal(t, first, appliedCount(t, conn), "re-application must be a no-op")
}

func TestRunner_EnsureCachesAfterFirstRun(t *testing.T) {
	conn := newConn(t)
	runner := NewRunner()

	require.NoError(t, runner.Ensure(context.Background(), conn))
	require.NoError(t, runner.Ensure(context.Background(), conn))
	assert.Equal(t, 3, appliedCount(t, conn))
}
