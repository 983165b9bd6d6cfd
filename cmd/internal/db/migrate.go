// Package db owns the SQL schema: embedded migrations for Postgres and SQLite
// and the golang-migrate runner used by cmd/migrate and by the server on start.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationFS holds migrations/postgres and migrations/sqlite.
//
//go:embed migrations
var MigrationFS embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Migrate applies migrations for driver in direction ("up" or "down").
// For Postgres dsn is a postgres:// URL; for SQLite it is a file path.
func Migrate(driver, dsn, direction string, logger *slog.Logger) error {
	if strings.TrimSpace(dsn) == "" {
		return errors.New("db: empty dsn")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("db: direction must be up or down, got %q", direction)
	}

	m, err := newMigrator(driver, dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if logger != nil {
		m.Log = migrateLogger{l: logger}
	}

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("db: migrate %s %s: %w", driver, direction, err)
	}

	if logger != nil {
		v, dirty, verr := m.Version()
		if verr == nil {
			logger.Info("db.migrate.done", "driver", driver, "direction", direction, "version", v, "dirty", dirty)
		}
	}
	return nil
}

func newMigrator(driver, dsn string) (*migrate.Migrate, error) {
	switch driver {
	case DriverPostgres:
		src, err := iofs.New(MigrationFS, "migrations/postgres")
		if err != nil {
			return nil, fmt.Errorf("db: migrate source: %w", err)
		}
		m, err := migrate.NewWithSourceInstance("iofs", src, pgx5URL(dsn))
		if err != nil {
			return nil, fmt.Errorf("db: migrate: %w", err)
		}
		return m, nil

	case DriverSQLite:
		src, err := iofs.New(MigrationFS, "migrations/sqlite")
		if err != nil {
			return nil, fmt.Errorf("db: migrate source: %w", err)
		}
		// The sqlite driver closes conn when the migrator is closed.
		conn, err := sql.Open("sqlite", SQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite: %w", err)
		}
		drv, err := sqlite.WithInstance(conn, &sqlite.Config{})
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("db: migrate sqlite driver: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			_ = drv.Close()
			return nil, fmt.Errorf("db: migrate: %w", err)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("db: unknown driver %q", driver)
	}
}

// pgx5URL rewrites a postgres:// URL to the scheme registered by the pgx/v5 migrate driver.
func pgx5URL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// SQLiteDSN builds the modernc.org/sqlite DSN used by both the migrator and the session store.
// Write transactions start as BEGIN IMMEDIATE so concurrent writers queue on busy_timeout.
func SQLiteDSN(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"
}

type migrateLogger struct{ l *slog.Logger }

func (m migrateLogger) Printf(format string, v ...any) {
	m.l.Debug("db.migrate", "msg", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (m migrateLogger) Verbose() bool { return false }
