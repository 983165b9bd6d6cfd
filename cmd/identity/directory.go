package identity

import (
	"context"
	"time"
)

// Principal is the authenticated subject as seen by the auth subsystem.
type Principal struct {
	ID        string
	Email     string
	Scopes    []string
	CreatedAt time.Time
}

// CreatePrincipalInput describes a new principal.
type CreatePrincipalInput struct {
	Email    string
	Password string
	Scopes   []string
	Now      time.Time
}

// Directory is the identity boundary consumed by the auth orchestrator and the
// refresh-session manager.
type Directory interface {
	// VerifyCredentials returns the principal for identifier/secret or an error
	// matching ErrInvalidCredentials. The identifier is the login email.
	VerifyCredentials(ctx context.Context, identifier, secret string) (Principal, error)

	// GetByID returns the principal with its current scopes, or ErrNotFound.
	GetByID(ctx context.Context, id string) (Principal, error)

	// OwnerExists reports whether a principal with id exists.
	OwnerExists(ctx context.Context, id string) (bool, error)

	CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error)

	// SetScopes replaces the principal's scopes. Takes effect on the next refresh.
	SetScopes(ctx context.Context, id string, scopes []string) error

	// DeletePrincipal removes a principal. In Postgres its refresh sessions
	// are removed by the foreign key cascade.
	DeletePrincipal(ctx context.Context, id string) error
}
