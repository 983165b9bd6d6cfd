package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"fms/cmd/internal/db"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite file (modernc.org/sqlite).
//
// Every transaction is BEGIN IMMEDIATE over a single connection, so writers are
// fully serialized and LockOwner has nothing left to do. Timestamps are stored
// as UTC unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path. Schema migrations
// are applied separately (db.Migrate).
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", db.SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("session: ping sqlite: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// WithinTx implements Store.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("session: commit: %w", err)
	}
	return nil
}

// DeleteExpiredBefore implements Store.
func (s *SQLiteStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (SweepResult, error) {
	var res SweepResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("session: begin sweep: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	r, err := tx.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE expires_at < ?`, unixNano(cutoff))
	if err != nil {
		return res, fmt.Errorf("session: sweep sessions: %w", err)
	}
	res.Sessions, _ = r.RowsAffected()

	r, err = tx.ExecContext(ctx, `DELETE FROM retired_refresh_sessions WHERE expires_at < ?`, unixNano(cutoff))
	if err != nil {
		return SweepResult{}, fmt.Errorf("session: sweep ledger: %w", err)
	}
	res.Retired, _ = r.RowsAffected()

	if err := tx.Commit(); err != nil {
		return SweepResult{}, fmt.Errorf("session: commit sweep: %w", err)
	}
	return res, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

const sqliteRowColumns = `id, owner_id, secret_hash, created_at, expires_at, COALESCE(user_agent, ''), COALESCE(ip, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRow(sc rowScanner) (Row, error) {
	var (
		r                Row
		created, expires int64
		ip               string
	)
	if err := sc.Scan(&r.ID, &r.OwnerID, &r.SecretHash, &created, &expires, &r.Meta.UserAgent, &ip); err != nil {
		return Row{}, err
	}
	r.CreatedAt = fromUnixNano(created)
	r.ExpiresAt = fromUnixNano(expires)
	if ip != "" {
		if addr, err := netip.ParseAddr(ip); err == nil {
			r.Meta.IP = addr
		}
	}
	return r, nil
}

func (t *sqliteTx) Get(ctx context.Context, id string) (Row, error) {
	r, err := scanSQLiteRow(t.tx.QueryRowContext(ctx,
		`SELECT `+sqliteRowColumns+` FROM refresh_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("session: get: %w", err)
	}
	return r, nil
}

func (t *sqliteTx) LockOwner(ctx context.Context, _ string) error {
	return ctx.Err()
}

func (t *sqliteTx) Put(ctx context.Context, row Row) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO refresh_sessions (id, owner_id, secret_hash, created_at, expires_at, user_agent, ip)
		SELECT ?1, ?2, ?3, ?4, ?5, NULLIF(?6, ''), NULLIF(?7, '')
		WHERE NOT EXISTS (SELECT 1 FROM retired_refresh_sessions WHERE session_id = ?1)
	`, row.ID, row.OwnerID, row.SecretHash, unixNano(row.CreatedAt), unixNano(row.ExpiresAt), row.Meta.UserAgent, ipText(row.Meta.IP))
	if err != nil {
		return fmt.Errorf("session: put: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session: put: %w", err)
	}
	if n == 0 {
		return errSessionIDTaken
	}
	return nil
}

func (t *sqliteTx) DeleteByID(ctx context.Context, id string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("session: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (t *sqliteTx) DeleteAllByOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("session: delete all: %w", err)
	}
	return res.RowsAffected()
}

func (t *sqliteTx) ListByOwner(ctx context.Context, ownerID string) ([]Row, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+sqliteRowColumns+` FROM refresh_sessions WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, fmt.Errorf("session: list: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return out, nil
}

func (t *sqliteTx) Retire(ctx context.Context, r Retired) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO retired_refresh_sessions (session_id, owner_id, retired_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, r.SessionID, r.OwnerID, unixNano(r.RetiredAt), unixNano(r.ExpiresAt))
	if err != nil {
		return fmt.Errorf("session: retire: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetRetired(ctx context.Context, id string) (Retired, error) {
	var (
		r                Retired
		retired, expires int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT session_id, owner_id, retired_at, expires_at
		FROM retired_refresh_sessions
		WHERE session_id = ?
	`, id).Scan(&r.SessionID, &r.OwnerID, &retired, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Retired{}, ErrSessionNotFound
	}
	if err != nil {
		return Retired{}, fmt.Errorf("session: get retired: %w", err)
	}
	r.RetiredAt = fromUnixNano(retired)
	r.ExpiresAt = fromUnixNano(expires)
	return r, nil
}

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

var _ Store = (*SQLiteStore)(nil)
