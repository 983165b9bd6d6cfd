package identity

import (
	"errors"
	"fmt"
	"strings"

	"fms/cmd/security/password"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes new passwords with Argon2id and verifies both Argon2id
// and legacy bcrypt ($2a$, $2b$, $2y$) hashes.
type PasswordHasher struct {
	cfg   password.Config
	dummy string
}

// NewPasswordHasher builds a hasher and precomputes the dummy hash used to keep
// failed lookups as slow as failed verifications.
func NewPasswordHasher(cfg password.Config) (*PasswordHasher, error) {
	dummy, err := cfg.HashSecret("fms-dummy-credential")
	if err != nil {
		return nil, fmt.Errorf("identity: dummy hash: %w", err)
	}
	return &PasswordHasher{cfg: cfg, dummy: dummy}, nil
}

// Hash applies the password policy and returns an Argon2id PHC string.
func (h *PasswordHasher) Hash(plain string) (string, error) {
	return h.cfg.Hash(plain)
}

// Verify reports whether plain matches encoded.
// Unknown hash formats return password.ErrInvalidHash.
func (h *PasswordHasher) Verify(encoded, plain string) (bool, error) {
	switch {
	case password.IsEncodedHash(encoded):
		return h.cfg.Verify(encoded, plain)
	case isBcryptHash(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", password.ErrInvalidHash, err)
	default:
		return false, password.ErrInvalidHash
	}
}

// burn runs one verification against the dummy hash and discards the result.
func (h *PasswordHasher) burn(plain string) {
	_, _ = h.cfg.Verify(h.dummy, plain)
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
