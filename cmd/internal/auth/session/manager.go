package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"fms/cmd/identity/ids"
	"fms/cmd/security/token"
)

// maxIDAttempts bounds session id regeneration on collision.
const maxIDAttempts = 3

// SecretHasher is the slow one-way function applied to refresh secrets.
// password.Config satisfies it.
type SecretHasher interface {
	HashSecret(secret string) (string, error)
	Verify(encodedHash, secret string) (bool, error)
}

// OwnerChecker reports whether a principal exists.
type OwnerChecker interface {
	OwnerExists(ctx context.Context, ownerID string) (bool, error)
}

// Issued is a freshly minted refresh credential. Credential carries the raw
// secret and is returned exactly once.
type Issued struct {
	Credential string
	SessionID  string
	OwnerID    string
	ExpiresAt  time.Time
}

// Manager creates, rotates and revokes refresh sessions.
//
// Every mutation for one owner runs in a store transaction holding that owner's
// lock, so create, rotate and revoke are linearizable per owner. Session rows
// are never cached; each call re-reads under the lock before acting.
type Manager struct {
	cfg    Config
	store  Store
	hasher SecretHasher

	pre     token.Prehasher
	owners  OwnerChecker
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithOwnerChecker makes Create fail with ErrPrincipalNotFound for unknown owners.
func WithOwnerChecker(c OwnerChecker) ManagerOption { return func(m *Manager) { m.owners = c } }

// WithPrehasher peppers secrets before the slow hash.
func WithPrehasher(p token.Prehasher) ManagerOption { return func(m *Manager) { m.pre = p } }

func WithMetrics(mx *Metrics) ManagerOption { return func(m *Manager) { m.metrics = mx } }

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager validates the refresh settings of cfg and builds a Manager.
func NewManager(cfg Config, store Store, hasher SecretHasher, opts ...ManagerOption) (*Manager, error) {
	if store == nil || hasher == nil {
		return nil, configErr("session manager needs a store and a secret hasher")
	}
	if cfg.RefreshTTLMinutes <= 0 {
		return nil, configErr("FMS_REFRESH_TTL_MINUTES must be positive")
	}
	if cfg.RefreshSecretBytes < token.MinSecretBytes || cfg.RefreshSecretBytes > token.MaxSecretBytes {
		return nil, configErr("FMS_REFRESH_SECRET_BYTES must be in [%d..%d]", token.MinSecretBytes, token.MaxSecretBytes)
	}

	m := &Manager{
		cfg:    cfg,
		store:  store,
		hasher: hasher,
		pre:    token.NewPrehasher(nil),
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create starts a new refresh session for ownerID. The owner's other sessions
// are left untouched.
func (m *Manager) Create(ctx context.Context, ownerID string, meta ClientMeta) (Issued, error) {
	if ownerID == "" {
		return Issued{}, ErrPrincipalNotFound
	}
	if m.owners != nil {
		ok, err := m.owners.OwnerExists(ctx, ownerID)
		if err != nil {
			return Issued{}, fmt.Errorf("session: check owner: %w", err)
		}
		if !ok {
			return Issued{}, ErrPrincipalNotFound
		}
	}

	secret, hash, err := m.newSecret()
	if err != nil {
		return Issued{}, err
	}
	now := m.now()

	var row Row
	err = m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockOwner(ctx, ownerID); err != nil {
			return err
		}
		row, err = m.insert(ctx, tx, ownerID, hash, now, meta)
		return err
	})
	if err != nil {
		return Issued{}, err
	}

	m.log.Debug("session.created", "owner_id", ownerID, "session_id", row.ID)
	return issuedFrom(row, secret), nil
}

// Rotate exchanges a composite refresh credential for a new one.
//
// Outcomes:
//   - malformed credential: ErrInvalidCredentialFormat, no side effect.
//   - unknown id: ErrSessionNotFound. A retired id presented after the reuse
//     grace window revokes all of the owner's sessions and yields a
//     *RevocationError of kind ErrSessionNotFound.
//   - expired session: the row is deleted, ErrSessionExpired.
//   - wrong secret: all of the owner's sessions are deleted, *RevocationError
//     of kind ErrSecretMismatch.
//   - success: all of the owner's sessions are replaced by one new session
//     with a new id.
func (m *Manager) Rotate(ctx context.Context, composite string, meta ClientMeta) (Issued, error) {
	id, secret, err := SplitCredential(composite)
	if err != nil {
		m.metrics.rotation(outcomeInvalid)
		return Issued{}, err
	}

	now := m.now()

	// Unknown ids are settled before the replacement secret is hashed.
	outcome, err := m.settleUnknown(ctx, id, now)
	var (
		next      Row
		newSecret string
	)
	if err == nil && outcome == nil {
		var newHash string
		// Hashing is slow; keep it out of the owner lock.
		newSecret, newHash, err = m.newSecret()
		if err == nil {
			next, outcome, err = m.replace(ctx, id, secret, newHash, now, meta)
		}
	}
	if err != nil {
		m.metrics.rotation(outcomeError)
		return Issued{}, err
	}

	m.metrics.rotation(outcomeOf(outcome))
	if outcome != nil {
		var rev *RevocationError
		if errors.As(outcome, &rev) {
			m.metrics.reuseDetected(rev.Revoked)
			m.log.Warn("session.rotate.reuse_detected",
				"owner_id", rev.OwnerID,
				"session_id", id,
				"kind", rev.Kind.Error(),
				"revoked", rev.Revoked,
			)
		} else {
			m.log.Debug("session.rotate.rejected", "session_id", id, "reason", outcome.Error())
		}
		return Issued{}, outcome
	}

	m.log.Debug("session.rotated", "owner_id", next.OwnerID, "old_session_id", id, "session_id", next.ID)
	return issuedFrom(next, newSecret), nil
}

// settleUnknown resolves a credential whose id has no live row. A nil outcome
// means the row existed when looked up.
func (m *Manager) settleUnknown(ctx context.Context, id string, now time.Time) (outcome, err error) {
	err = m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		outcome = nil
		_, err := tx.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			outcome, err = m.handleUnknown(ctx, tx, id, now)
		}
		return err
	})
	return outcome, err
}

// replace verifies secret against the live row and swaps every session of its
// owner for one new row carrying newHash.
func (m *Manager) replace(ctx context.Context, id, secret, newHash string, now time.Time, meta ClientMeta) (next Row, outcome, err error) {
	err = m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		outcome = nil

		row, err := tx.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			outcome, err = m.handleUnknown(ctx, tx, id, now)
			return err
		}
		if err != nil {
			return err
		}

		if err := tx.LockOwner(ctx, row.OwnerID); err != nil {
			return err
		}
		// A concurrent rotation may have replaced the row while we waited.
		row, err = tx.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			outcome, err = m.handleUnknown(ctx, tx, id, now)
			return err
		}
		if err != nil {
			return err
		}

		if row.ExpiredAt(now) {
			if _, err := tx.DeleteByID(ctx, row.ID); err != nil {
				return err
			}
			outcome = ErrSessionExpired
			return nil
		}

		ok, err := m.hasher.Verify(row.SecretHash, m.pre.Sum(secret))
		if err != nil {
			return fmt.Errorf("session: verify secret: %w", err)
		}
		if !ok {
			n, err := tx.DeleteAllByOwner(ctx, row.OwnerID)
			if err != nil {
				return err
			}
			outcome = &RevocationError{OwnerID: row.OwnerID, Revoked: n, Kind: ErrSecretMismatch}
			return nil
		}

		if _, err := tx.DeleteAllByOwner(ctx, row.OwnerID); err != nil {
			return err
		}
		if err := tx.Retire(ctx, Retired{
			SessionID: row.ID,
			OwnerID:   row.OwnerID,
			RetiredAt: now,
			ExpiresAt: row.ExpiresAt,
		}); err != nil {
			return err
		}
		next, err = m.insert(ctx, tx, row.OwnerID, newHash, now, meta)
		return err
	})
	if err != nil {
		return Row{}, nil, err
	}
	return next, outcome, nil
}

// handleUnknown decides what an absent session id means. Ledger entries past
// their original expiry are plain not-found. outcome is the rejection to
// report; err is a store failure.
func (m *Manager) handleUnknown(ctx context.Context, tx Tx, id string, now time.Time) (outcome, err error) {
	ret, err := tx.GetRetired(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return ErrSessionNotFound, nil
	}
	if err != nil {
		return nil, err
	}
	if !now.Before(ret.ExpiresAt) || now.Sub(ret.RetiredAt) < m.cfg.RefreshReuseGrace {
		return ErrSessionNotFound, nil
	}

	if err := tx.LockOwner(ctx, ret.OwnerID); err != nil {
		return nil, err
	}
	n, err := tx.DeleteAllByOwner(ctx, ret.OwnerID)
	if err != nil {
		return nil, err
	}
	return &RevocationError{OwnerID: ret.OwnerID, Revoked: n, Kind: ErrSessionNotFound}, nil
}

// RevokeAll deletes every session of ownerID and returns how many were removed.
func (m *Manager) RevokeAll(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, ErrPrincipalNotFound
	}

	var n int64
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockOwner(ctx, ownerID); err != nil {
			return err
		}
		var err error
		n, err = tx.DeleteAllByOwner(ctx, ownerID)
		return err
	})
	if err != nil {
		return 0, err
	}

	m.metrics.revokedSessions(n)
	m.log.Info("session.revoked_all", "owner_id", ownerID, "revoked", n)
	return n, nil
}

// ListSessions returns the owner's live sessions, oldest first, without secret hashes.
func (m *Manager) ListSessions(ctx context.Context, ownerID string) ([]Row, error) {
	var rows []Row
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		rows, err = tx.ListByOwner(ctx, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].SecretHash = ""
	}
	return rows, nil
}

func (m *Manager) newSecret() (secret, hash string, err error) {
	secret, err = token.NewOpaque(m.cfg.RefreshSecretBytes)
	if err != nil {
		return "", "", fmt.Errorf("session: generate secret: %w", err)
	}
	hash, err = m.hasher.HashSecret(m.pre.Sum(secret))
	if err != nil {
		return "", "", fmt.Errorf("session: hash secret: %w", err)
	}
	return secret, hash, nil
}

func (m *Manager) insert(ctx context.Context, tx Tx, ownerID, hash string, now time.Time, meta ClientMeta) (Row, error) {
	for range maxIDAttempts {
		id, err := ids.NewULID(now)
		if err != nil {
			return Row{}, err
		}
		row := Row{
			ID:         id,
			OwnerID:    ownerID,
			SecretHash: hash,
			CreatedAt:  now,
			ExpiresAt:  now.Add(m.cfg.RefreshTTL()),
			Meta:       meta,
		}
		err = tx.Put(ctx, row)
		if errors.Is(err, errSessionIDTaken) {
			continue
		}
		if err != nil {
			return Row{}, err
		}
		return row, nil
	}
	return Row{}, fmt.Errorf("session: %w after %d attempts", errSessionIDTaken, maxIDAttempts)
}

func issuedFrom(row Row, secret string) Issued {
	return Issued{
		Credential: JoinCredential(row.ID, secret),
		SessionID:  row.ID,
		OwnerID:    row.OwnerID,
		ExpiresAt:  row.ExpiresAt,
	}
}
