package session

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"fms/cmd/identity/ids"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (fms.refresh_sessions and
// fms.retired_refresh_sessions).
//
// Owner locks are transaction-scoped advisory locks, so a session row is only
// ever mutated by the transaction holding its owner's lock. Reads therefore do
// not need FOR UPDATE, and the owner lock is always the first lock taken.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "fms").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, schema: "fms"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return s, nil
}

func (s *PostgresStore) sessions() string {
	return pgx.Identifier{s.schema, "refresh_sessions"}.Sanitize()
}

func (s *PostgresStore) retired() string {
	return pgx.Identifier{s.schema, "retired_refresh_sessions"}.Sanitize()
}

// WithinTx implements Store.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("session: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{s: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session: commit: %w", err)
	}
	return nil
}

// DeleteExpiredBefore implements Store. Rows locked by in-flight rotations are
// skipped and picked up by a later sweep.
func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (SweepResult, error) {
	var res SweepResult

	ct, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.sessions()+`
		WHERE id IN (
			SELECT id FROM `+s.sessions()+`
			WHERE expires_at < $1
			FOR UPDATE SKIP LOCKED
		)
	`, cutoff)
	if err != nil {
		return res, fmt.Errorf("session: sweep sessions: %w", err)
	}
	res.Sessions = ct.RowsAffected()

	ct, err = s.pool.Exec(ctx, `
		DELETE FROM `+s.retired()+`
		WHERE session_id IN (
			SELECT session_id FROM `+s.retired()+`
			WHERE expires_at < $1
			FOR UPDATE SKIP LOCKED
		)
	`, cutoff)
	if err != nil {
		return res, fmt.Errorf("session: sweep ledger: %w", err)
	}
	res.Retired = ct.RowsAffected()

	return res, nil
}

type pgTx struct {
	s  *PostgresStore
	tx pgx.Tx
}

const pgRowColumns = `id, owner_id::text, secret_hash, created_at, expires_at, COALESCE(user_agent, ''), host(ip)`

func scanPgRow(row pgx.Row) (Row, error) {
	var (
		r  Row
		ip *string
	)
	if err := row.Scan(&r.ID, &r.OwnerID, &r.SecretHash, &r.CreatedAt, &r.ExpiresAt, &r.Meta.UserAgent, &ip); err != nil {
		return Row{}, err
	}
	if ip != nil {
		if addr, err := netip.ParseAddr(*ip); err == nil {
			r.Meta.IP = addr
		}
	}
	return r, nil
}

func (t *pgTx) Get(ctx context.Context, id string) (Row, error) {
	r, err := scanPgRow(t.tx.QueryRow(ctx,
		`SELECT `+pgRowColumns+` FROM `+t.s.sessions()+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("session: get: %w", err)
	}
	return r, nil
}

func (t *pgTx) LockOwner(ctx context.Context, ownerID string) error {
	// Re-acquiring an xact lock in the same transaction just bumps its count.
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, ownerID); err != nil {
		return fmt.Errorf("session: lock owner: %w", err)
	}
	return nil
}

func (t *pgTx) Put(ctx context.Context, row Row) error {
	if !ids.IsPrincipalID(row.OwnerID) {
		return ErrPrincipalNotFound
	}

	ct, err := t.tx.Exec(ctx, `
		INSERT INTO `+t.s.sessions()+` (id, owner_id, secret_hash, created_at, expires_at, user_agent, ip)
		SELECT $1::text, $2::uuid, $3::text, $4::timestamptz, $5::timestamptz,
		       NULLIF($6::text, ''), NULLIF($7::text, '')::inet
		WHERE NOT EXISTS (SELECT 1 FROM `+t.s.retired()+` WHERE session_id = $1)
		ON CONFLICT (id) DO NOTHING
	`, row.ID, row.OwnerID, row.SecretHash, row.CreatedAt, row.ExpiresAt, row.Meta.UserAgent, ipText(row.Meta.IP))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrPrincipalNotFound
		}
		return fmt.Errorf("session: put: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return errSessionIDTaken
	}
	return nil
}

func (t *pgTx) DeleteByID(ctx context.Context, id string) (bool, error) {
	ct, err := t.tx.Exec(ctx, `DELETE FROM `+t.s.sessions()+` WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("session: delete: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (t *pgTx) DeleteAllByOwner(ctx context.Context, ownerID string) (int64, error) {
	if !ids.IsPrincipalID(ownerID) {
		return 0, nil
	}
	ct, err := t.tx.Exec(ctx, `DELETE FROM `+t.s.sessions()+` WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("session: delete all: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (t *pgTx) ListByOwner(ctx context.Context, ownerID string) ([]Row, error) {
	if !ids.IsPrincipalID(ownerID) {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx,
		`SELECT `+pgRowColumns+` FROM `+t.s.sessions()+` WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanPgRow(rows)
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

func (t *pgTx) Retire(ctx context.Context, r Retired) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO `+t.s.retired()+` (session_id, owner_id, retired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO NOTHING
	`, r.SessionID, r.OwnerID, r.RetiredAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("session: retire: %w", err)
	}
	return nil
}

func (t *pgTx) GetRetired(ctx context.Context, id string) (Retired, error) {
	var r Retired
	err := t.tx.QueryRow(ctx, `
		SELECT session_id, owner_id::text, retired_at, expires_at
		FROM `+t.s.retired()+`
		WHERE session_id = $1
	`, id).Scan(&r.SessionID, &r.OwnerID, &r.RetiredAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Retired{}, ErrSessionNotFound
	}
	if err != nil {
		return Retired{}, fmt.Errorf("session: get retired: %w", err)
	}
	return r, nil
}

func ipText(ip netip.Addr) string {
	if !ip.IsValid() {
		return ""
	}
	return ip.String()
}

var _ Store = (*PostgresStore)(nil)
