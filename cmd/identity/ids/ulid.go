// Package ids provides the identifier primitives used across the auth subsystem.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars, Crockford base32).
// ULIDs never contain '.', so they are safe as the id half of a composite credential.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IsULID reports whether s parses as a ULID.
func IsULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// NewPrincipalID returns a random (v4) UUID string for a new principal.
func NewPrincipalID() string {
	return uuid.NewString()
}

// IsPrincipalID reports whether s is a well-formed principal UUID.
func IsPrincipalID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
