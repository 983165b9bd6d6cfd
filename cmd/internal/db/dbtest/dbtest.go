// Package dbtest provides migrated databases for integration tests.
//
// Postgres comes from FMS_DATABASE_URL when set, otherwise from a
// postgres:16-alpine testcontainer when FMS_TEST_INTEGRATION=1; without either
// the calling test is skipped. SQLite databases are temp files.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fms/cmd/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce sync.Once
	pgURL  string
	pgErr  error
	pgSkip string
)

// PostgresURL returns the DSN of a migrated Postgres database, or skips t.
// The database is shared by all tests of the package; tests isolate by owner id.
func PostgresURL(t testing.TB) string {
	t.Helper()

	pgOnce.Do(func() { pgURL, pgSkip, pgErr = setupPostgres() })
	if pgSkip != "" {
		t.Skip(pgSkip)
	}
	require.NoError(t, pgErr)
	return pgURL
}

// PostgresPool opens a pool on PostgresURL and closes it when t ends.
func PostgresPool(t testing.TB) *pgxpool.Pool {
	t.Helper()

	url := PostgresURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// SQLitePath returns a migrated SQLite file inside t.TempDir().
func SQLitePath(t testing.TB) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fms.db")
	require.NoError(t, db.Migrate(db.DriverSQLite, path, "up", nil))
	return path
}

func setupPostgres() (url string, skip string, err error) {
	url = strings.TrimSpace(os.Getenv("FMS_DATABASE_URL"))
	if url == "" {
		if os.Getenv("FMS_TEST_INTEGRATION") == "" {
			return "", "integration tests are disabled (set FMS_DATABASE_URL or FMS_TEST_INTEGRATION=1)", nil
		}
		url, err = startContainer()
		if err != nil {
			return "", "", err
		}
	}

	if err := ping(url); err != nil {
		if shouldSkipIntegration(err) {
			return "", fmt.Sprintf("integration test skipped: Postgres unreachable: %v", err), nil
		}
		return "", "", err
	}

	if err := db.Migrate(db.DriverPostgres, url, "up", nil); err != nil {
		return "", "", err
	}
	return url, "", nil
}

func startContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "fms", "POSTGRES_PASSWORD": "fms", "POSTGRES_DB": "fms"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return "", fmt.Errorf("dbtest: start postgres: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgres://fms:fms@%s:%s/fms?sslmode=disable", host, port.Port()), nil
}

func ping(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return err
	}
	defer pool.Close()
	return pool.Ping(ctx)
}

// shouldSkipIntegration reports whether err means "no database here" rather than a bug.
// In CI every failure is fatal.
func shouldSkipIntegration(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
