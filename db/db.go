// Package db provides database connection helpers and schema migration for the
// watch-list tables. Postgres (pgx) is the production backend; SQLite (modernc) serves
// single-host deployments and tests.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "modernc.org/sqlite"             // pure-go sqlite driver registered as 'sqlite'
)

// Dialect identifies the SQL flavour behind a *sql.DB.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// Placeholder returns the bind parameter for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Rebind rewrites '?' placeholders in q into the dialect's form.
func (d Dialect) Rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseDSN maps a DB_DSN value to a driver name, driver DSN and dialect.
// postgres:// and postgresql:// select pgx; sqlite://<path>, file:<path> and
// :memory: select sqlite.
func ParseDSN(dsn string) (driver, source string, dialect Dialect, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn, Postgres, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), SQLite, nil
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return "sqlite", dsn, SQLite, nil
	default:
		return "", "", 0, fmt.Errorf("unsupported DB_DSN %q: want postgres:// or sqlite://", dsn)
	}
}

// Connect opens the database named by dsn and returns it with its dialect.
func Connect(dsn string) (*sql.DB, Dialect, error) {
	driver, source, dialect, err := ParseDSN(dsn)
	if err != nil {
		return nil, 0, err
	}
	conn, err := sql.Open(driver, source)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// one writer; also keeps :memory: databases on a single connection
		conn.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
			if _, err := conn.Exec(pragma); err != nil {
				_ = conn.Close()
				return nil, 0, fmt.Errorf("sqlite %s: %w", pragma, err)
			}
		}
	}
	slog.Info("database opened", slog.String("dialect", dialect.String()), slog.String("component", "db"))
	return conn, dialect, nil
}

// Migrate applies idempotent schema changes for all required tables and indices.
// It is the fallback when versioned migrations cannot run, and the fast path for tests.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS watchlist (
			platform TEXT NOT NULL,
			name TEXT NOT NULL,
			added_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (platform, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_watchlist_platform_created ON watchlist (platform, created_at)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
