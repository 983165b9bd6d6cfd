package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"fms/cmd/identity/ids"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory implements Directory over PostgreSQL.
//
// The pgx pool is owned by the caller; the directory never closes it.
// Schema identifiers are quoted with pgx.Identifier.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	hasher *PasswordHasher
	schema string
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "fms").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, hasher *PasswordHasher, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		hasher: hasher,
		schema: "fms",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	if d.hasher == nil {
		return nil, fmt.Errorf("identity: nil password hasher")
	}
	return d, nil
}

// selectPrincipal loads a principal with its roles aggregated as scopes.
func (d *PostgresDirectory) selectPrincipal(where string) string {
	users := pgIdent(d.schema, "users")
	roles := pgIdent(d.schema, "user_roles")
	return `SELECT u.id::text, u.email, u.password_hash, u.created_at,
	               COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')
	          FROM ` + users + ` u
	          LEFT JOIN ` + roles + ` r ON r.user_id = u.id
	         WHERE ` + where + `
	         GROUP BY u.id`
}

// VerifyCredentials implements Directory.
func (d *PostgresDirectory) VerifyCredentials(ctx context.Context, identifier, secret string) (Principal, error) {
	var (
		p    Principal
		hash string
	)
	err := d.pool.QueryRow(ctx, d.selectPrincipal("u.email_norm = $1"), NormalizeEmail(identifier)).
		Scan(&p.ID, &p.Email, &hash, &p.CreatedAt, &p.Scopes)
	if errors.Is(err, pgx.ErrNoRows) {
		d.hasher.burn(secret)
		return Principal{}, invalidCredentials()
	}
	if err != nil {
		return Principal{}, fmt.Errorf("identity: verify credentials: %w", err)
	}

	match, err := d.hasher.Verify(hash, secret)
	if err != nil || !match {
		return Principal{}, invalidCredentials()
	}
	return p, nil
}

// GetByID implements Directory.
func (d *PostgresDirectory) GetByID(ctx context.Context, id string) (Principal, error) {
	const op = "identity.GetByID"

	if !ids.IsPrincipalID(id) {
		return Principal{}, NotFoundError{Op: op, Resource: "principal"}
	}

	var (
		p    Principal
		hash string
	)
	err := d.pool.QueryRow(ctx, d.selectPrincipal("u.id = $1"), id).
		Scan(&p.ID, &p.Email, &hash, &p.CreatedAt, &p.Scopes)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, NotFoundError{Op: op, Resource: "principal"}
	}
	if err != nil {
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// OwnerExists implements Directory.
func (d *PostgresDirectory) OwnerExists(ctx context.Context, id string) (bool, error) {
	if !ids.IsPrincipalID(id) {
		return false, nil
	}
	var ok bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+pgIdent(d.schema, "users")+` WHERE id = $1)`, id,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("identity.OwnerExists: %w", err)
	}
	return ok, nil
}

// CreatePrincipal inserts the user and its roles transactionally.
func (d *PostgresDirectory) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
	const op = "identity.CreatePrincipal"

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return Principal{}, invalidInput(op, "email is required")
	}
	hash, err := d.hasher.Hash(in.Password)
	if err != nil {
		return Principal{}, invalidInput(op, err.Error())
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	p := Principal{
		ID:        ids.NewPrincipalID(),
		Email:     email,
		Scopes:    NormalizeScopes(in.Scopes),
		CreatedAt: now,
	}
	if err := d.insert(ctx, op, p, hash); err != nil {
		return Principal{}, err
	}
	return p, nil
}

// ImportPrincipal inserts a principal with an existing password hash (Argon2id or bcrypt).
func (d *PostgresDirectory) ImportPrincipal(ctx context.Context, p Principal, passwordHash string) error {
	const op = "identity.ImportPrincipal"

	if !ids.IsPrincipalID(p.ID) {
		return invalidInput(op, "id must be a uuid")
	}
	if NormalizeEmail(p.Email) == "" {
		return invalidInput(op, "email is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Scopes = NormalizeScopes(p.Scopes)
	return d.insert(ctx, op, p, passwordHash)
}

func (d *PostgresDirectory) insert(ctx context.Context, op string, p Principal, hash string) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO `+pgIdent(d.schema, "users")+` (id, email, email_norm, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Email, NormalizeEmail(p.Email), hash, p.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := d.replaceRolesTx(ctx, tx, p.ID, p.Scopes); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return tx.Commit(ctx)
}

// SetScopes implements Directory.
func (d *PostgresDirectory) SetScopes(ctx context.Context, id string, scopes []string) error {
	const op = "identity.SetScopes"

	exists, err := d.OwnerExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return NotFoundError{Op: op, Resource: "principal"}
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := d.replaceRolesTx(ctx, tx, id, NormalizeScopes(scopes)); err != nil {
		if pgIsForeignKeyViolation(err) {
			return NotFoundError{Op: op, Resource: "principal"}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return tx.Commit(ctx)
}

func (d *PostgresDirectory) replaceRolesTx(ctx context.Context, tx pgx.Tx, id string, scopes []string) error {
	roles := pgIdent(d.schema, "user_roles")
	if _, err := tx.Exec(ctx, `DELETE FROM `+roles+` WHERE user_id = $1`, id); err != nil {
		return err
	}
	if len(scopes) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO `+roles+` (user_id, role) SELECT $1::uuid, unnest($2::text[])`,
		id, scopes,
	)
	return err
}

// DeletePrincipal implements Directory.
func (d *PostgresDirectory) DeletePrincipal(ctx context.Context, id string) error {
	const op = "identity.DeletePrincipal"

	if !ids.IsPrincipalID(id) {
		return NotFoundError{Op: op, Resource: "principal"}
	}
	ct, err := d.pool.Exec(ctx, `DELETE FROM `+pgIdent(d.schema, "users")+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "principal"}
	}
	return nil
}

// ---- helpers ----

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.ForeignKeyViolation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != pgerrcode.UniqueViolation {
		return "", false
	}

	// Prefer stable constraint names; fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	case c == "users_pkey":
		return "id", true
	default:
		return "unique", true
	}
}

var _ Directory = (*PostgresDirectory)(nil)
