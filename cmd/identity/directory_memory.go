package identity

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"fms/cmd/identity/ids"
)

// MemoryDirectory is an in-process Directory for tests and single-node dev runs.
type MemoryDirectory struct {
	hasher *PasswordHasher

	mu      sync.RWMutex
	byID    map[string]memPrincipal
	byEmail map[string]string
}

type memPrincipal struct {
	p    Principal
	hash string
}

// NewMemoryDirectory returns an empty directory using hasher for passwords.
func NewMemoryDirectory(hasher *PasswordHasher) *MemoryDirectory {
	return &MemoryDirectory{
		hasher:  hasher,
		byID:    make(map[string]memPrincipal),
		byEmail: make(map[string]string),
	}
}

// VerifyCredentials implements Directory.
func (d *MemoryDirectory) VerifyCredentials(ctx context.Context, identifier, secret string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	d.mu.RLock()
	id, ok := d.byEmail[NormalizeEmail(identifier)]
	rec := d.byID[id]
	d.mu.RUnlock()

	if !ok {
		d.hasher.burn(secret)
		return Principal{}, invalidCredentials()
	}

	match, err := d.hasher.Verify(rec.hash, secret)
	if err != nil || !match {
		return Principal{}, invalidCredentials()
	}
	return clonePrincipal(rec.p), nil
}

// GetByID implements Directory.
func (d *MemoryDirectory) GetByID(ctx context.Context, id string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	d.mu.RLock()
	rec, ok := d.byID[id]
	d.mu.RUnlock()
	if !ok {
		return Principal{}, NotFoundError{Op: "identity.GetByID", Resource: "principal"}
	}
	return clonePrincipal(rec.p), nil
}

// OwnerExists implements Directory.
func (d *MemoryDirectory) OwnerExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.RLock()
	_, ok := d.byID[id]
	d.mu.RUnlock()
	return ok, nil
}

// CreatePrincipal implements Directory.
func (d *MemoryDirectory) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
	const op = "identity.CreatePrincipal"

	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
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

	norm := NormalizeEmail(email)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, taken := d.byEmail[norm]; taken {
		return Principal{}, ConflictError{Op: op, Field: "email"}
	}
	d.byID[p.ID] = memPrincipal{p: p, hash: hash}
	d.byEmail[norm] = p.ID
	return clonePrincipal(p), nil
}

// SetScopes implements Directory.
func (d *MemoryDirectory) SetScopes(ctx context.Context, id string, scopes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.byID[id]
	if !ok {
		return NotFoundError{Op: "identity.SetScopes", Resource: "principal"}
	}
	rec.p.Scopes = NormalizeScopes(scopes)
	d.byID[id] = rec
	return nil
}

// DeletePrincipal implements Directory.
func (d *MemoryDirectory) DeletePrincipal(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.byID[id]
	if !ok {
		return NotFoundError{Op: "identity.DeletePrincipal", Resource: "principal"}
	}
	delete(d.byID, id)
	delete(d.byEmail, NormalizeEmail(rec.p.Email))
	return nil
}

// ImportPrincipal inserts a principal with an existing password hash (Argon2id or bcrypt).
// Used to seed dev directories from exported user tables.
func (d *MemoryDirectory) ImportPrincipal(p Principal, passwordHash string) error {
	const op = "identity.ImportPrincipal"

	if !ids.IsPrincipalID(p.ID) {
		return invalidInput(op, "id must be a uuid")
	}
	norm := NormalizeEmail(p.Email)
	if norm == "" {
		return invalidInput(op, "email is required")
	}
	p.Scopes = NormalizeScopes(p.Scopes)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, taken := d.byID[p.ID]; taken {
		return ConflictError{Op: op, Field: "id"}
	}
	if _, taken := d.byEmail[norm]; taken {
		return ConflictError{Op: op, Field: "email"}
	}
	d.byID[p.ID] = memPrincipal{p: p, hash: passwordHash}
	d.byEmail[norm] = p.ID
	return nil
}

func clonePrincipal(p Principal) Principal {
	p.Scopes = slices.Clone(p.Scopes)
	return p
}

var _ Directory = (*MemoryDirectory)(nil)
