// Package migrations applies the embedded, integer-versioned schema
// migrations. Every store operation calls Ensure first; applied versions are
// recorded in schema_migrations and re-application is a no-op.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationFS embed.FS

// migration is one versioned schema script.
type migration struct {
	version int
	name    string
	sql     string
}

// Runner applies migrations for one connection. Ensure is cheap after the
// first successful run.
type Runner struct {
	mu      sync.Mutex
	ensured bool
}

// NewRunner creates a migration runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Ensure brings the schema to the current version. Safe to call on every
// operation; after the first success it returns immediately.
func (r *Runner) Ensure(ctx context.Context, conn database.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ensured {
		return nil
	}
	if err := Run(ctx, conn); err != nil {
		return err
	}
	r.ensured = true
	return nil
}

// Run applies all pending migrations for the connection's driver, in
// version order, recording each in schema_migrations.
func Run(ctx context.Context, conn database.Connection) error {
	dir := "sqlite"
	if conn.Driver() == database.DriverPostgres {
		dir = "postgres"
	}

	migrations, err := load(dir)
	if err != nil {
		return err
	}

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := conn.BeginTx(ctx)
		if err != nil {
			return fmt.Errorf("migration %06d: begin: %w", m.version, err)
		}

		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %06d (%s): %w", m.version, m.name, err)
		}

		insert := `INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, datetime('now'))`
		if conn.Driver() == database.DriverPostgres {
			insert = `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, now()::text)`
		}
		if _, err := tx.Exec(ctx, insert, m.version, m.name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %06d: record: %w", m.version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("migration %06d: commit: %w", m.version, err)
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, conn database.Connection) (map[int]bool, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func load(dir string) ([]migration, error) {
	entries, err := migrationFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// Filenames are NNNNNN_name.up.sql.
		idx := strings.IndexByte(name, '_')
		if idx <= 0 {
			return nil, fmt.Errorf("malformed migration filename %q", name)
		}
		version, err := strconv.Atoi(name[:idx])
		if err != nil {
			return nil, fmt.Errorf("malformed migration version in %q: %w", name, err)
		}
		body, err := migrationFS.ReadFile(dir + "/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		out = append(out, migration{
			version: version,
			name:    strings.TrimSuffix(name[idx+1:], ".up.sql"),
			sql:     string(body),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
