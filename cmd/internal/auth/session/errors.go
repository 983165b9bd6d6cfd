package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentialFormat is returned when a composite refresh credential
	// does not split into exactly two non-empty parts.
	ErrInvalidCredentialFormat = errors.New("invalid refresh credential format")

	// ErrSessionNotFound is returned when no live session has the presented id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session existed but was past its expiry.
	// The row is deleted as a side effect.
	ErrSessionExpired = errors.New("session expired")

	// ErrSecretMismatch is returned when the secret does not match a live session.
	// All of the owner's sessions are revoked as a side effect.
	ErrSecretMismatch = errors.New("refresh secret mismatch")

	// ErrPrincipalNotFound is returned when a session owner does not exist.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrRefreshReuseDetected marks every outcome that revoked the owner's sessions.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	errSessionIDTaken = errors.New("session id already used")
	errTxDone         = errors.New("session: transaction already finished")
)

// RevocationError reports a rotation that revoked all of an owner's sessions.
// It matches both its Kind (ErrSecretMismatch or ErrSessionNotFound) and
// ErrRefreshReuseDetected.
type RevocationError struct {
	OwnerID string
	Revoked int64
	Kind    error
}

func (e *RevocationError) Error() string {
	return fmt.Sprintf("%s: %v (revoked %d sessions)", ErrRefreshReuseDetected.Error(), e.Kind, e.Revoked)
}

func (e *RevocationError) Unwrap() []error { return []error{e.Kind, ErrRefreshReuseDetected} }

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...)
}
