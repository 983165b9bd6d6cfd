package session

import (
	"context"
	"net/netip"
	"time"
)

// ClientMeta is advisory request metadata recorded with a session.
// It is never enforced.
type ClientMeta struct {
	UserAgent string
	IP        netip.Addr
}

// Row is a live refresh session.
type Row struct {
	ID         string
	OwnerID    string
	SecretHash string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Meta       ClientMeta
}

// ExpiredAt reports whether the session is unusable at now.
// ExpiresAt is an exclusive upper bound.
func (r Row) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Retired is the ledger entry of a session replaced by rotation.
// ExpiresAt is the retired session's original expiry.
type Retired struct {
	SessionID string
	OwnerID   string
	RetiredAt time.Time
	ExpiresAt time.Time
}

// SweepResult counts rows removed by DeleteExpiredBefore.
type SweepResult struct {
	Sessions int64
	Retired  int64
}

// Store persists refresh sessions.
//
// All session mutations go through WithinTx. fn runs in one transaction that
// commits when fn returns nil and rolls back otherwise; a Tx must not be used
// after fn returns. Implementations serialize transactions that hold the same
// owner lock.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// DeleteExpiredBefore deletes sessions and ledger entries whose expiry is
	// strictly before cutoff. Rows locked by in-flight transactions are skipped
	// where the backend allows it.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (SweepResult, error)
}

// Tx is the transactional view of a Store.
type Tx interface {
	// Get returns the live session with id, or ErrSessionNotFound.
	Get(ctx context.Context, id string) (Row, error)

	// LockOwner blocks until this transaction holds the owner's lock.
	// Released on commit or rollback. Re-locking the same owner is a no-op.
	LockOwner(ctx context.Context, ownerID string) error

	// Put inserts a new session. An id that is live or retired yields
	// errSessionIDTaken; an unknown owner may yield ErrPrincipalNotFound.
	Put(ctx context.Context, row Row) error

	DeleteByID(ctx context.Context, id string) (bool, error)
	DeleteAllByOwner(ctx context.Context, ownerID string) (int64, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Row, error)

	// Retire records a rotated session id in the ledger.
	Retire(ctx context.Context, r Retired) error

	// GetRetired returns the ledger entry for id, or ErrSessionNotFound.
	GetRetired(ctx context.Context, id string) (Retired, error)
}
