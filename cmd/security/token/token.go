package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

var (
	ErrHMACKeyMissing  = errors.New("token: FMS_TOKEN_HMAC_KEY is not set")
	ErrHMACKeyTooShort = errors.New("token: FMS_TOKEN_HMAC_KEY is too short")
	ErrSecretSize      = errors.New("token: secret size out of range")
)

const (
	// HMACEnvKey is the env var name for the refresh-secret pepper.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "FMS_TOKEN_HMAC_KEY"

	// MinSecretBytes and MaxSecretBytes bound the entropy of generated secrets.
	MinSecretBytes = 32
	MaxSecretBytes = 64
)

// NewOpaque returns nBytes of crypto/rand entropy encoded as URL-safe base64 (no padding).
func NewOpaque(nBytes int) (string, error) {
	if nBytes < MinSecretBytes || nBytes > MaxSecretBytes {
		return "", ErrSecretSize
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured pepper bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// Prehasher reduces a raw secret to a fixed-length string before slow hashing.
// The zero value uses plain SHA-256.
type Prehasher struct {
	key []byte
}

// NewPrehasher returns a Prehasher peppered with key. An empty key selects SHA-256.
func NewPrehasher(key []byte) Prehasher {
	if len(key) == 0 {
		return Prehasher{}
	}
	cp := make([]byte, len(key))
	copy(cp, key)
	return Prehasher{key: cp}
}

// PrehasherFromEnv builds a Prehasher from FMS_TOKEN_HMAC_KEY when present.
func PrehasherFromEnv() Prehasher {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	return NewPrehasher([]byte(raw))
}

// Peppered reports whether HMAC mode is active.
func (p Prehasher) Peppered() bool { return len(p.key) > 0 }

// Sum returns the 64-char hex pre-hash of secret.
func (p Prehasher) Sum(secret string) string {
	if len(p.key) == 0 {
		return HashSHA256Hex(secret)
	}
	return HashHMACSHA256Hex(secret, p.key)
}
