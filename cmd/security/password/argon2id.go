package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrInvalidHash is returned for malformed or unsupported encoded hashes.
	ErrInvalidHash = errors.New("invalid password hash")
	// ErrEmptySecret is returned by HashSecret for an empty input.
	ErrEmptySecret = errors.New("empty secret")
)

const phcPrefix = "$argon2id$"

var b64 = base64.RawStdEncoding

// phc is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" string.
type phc struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (p phc) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix, argon2.Version,
		p.params.MemoryKiB, p.params.Iterations, p.params.Parallelism,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func parsePHC(encoded string) (phc, error) {
	rest, ok := strings.CutPrefix(encoded, phcPrefix)
	if !ok {
		return phc{}, ErrInvalidHash
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 || fields[0] != "v="+strconv.Itoa(argon2.Version) {
		return phc{}, ErrInvalidHash
	}

	var p phc
	for _, kv := range strings.Split(fields[1], ",") {
		k, v, _ := strings.Cut(kv, "=")
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return phc{}, ErrInvalidHash
		}
		switch k {
		case "m":
			p.params.MemoryKiB = uint32(n)
		case "t":
			p.params.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return phc{}, ErrInvalidHash
			}
			p.params.Parallelism = uint8(n)
		default:
			return phc{}, ErrInvalidHash
		}
	}
	if p.params.MemoryKiB == 0 || p.params.Iterations == 0 || p.params.Parallelism == 0 {
		return phc{}, ErrInvalidHash
	}

	var err error
	if p.salt, err = b64.DecodeString(fields[2]); err != nil {
		return phc{}, ErrInvalidHash
	}
	if p.key, err = b64.DecodeString(fields[3]); err != nil {
		return phc{}, ErrInvalidHash
	}
	p.params.SaltLength = uint32(len(p.salt)) // #nosec G115 -- bounded by the encoded string
	p.params.KeyLength = uint32(len(p.key))   // #nosec G115 -- bounded by the encoded string
	return p, nil
}

// Hash applies the password policy and returns an Argon2id PHC string.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}
	return c.derive(password)
}

// HashSecret hashes a machine-generated secret such as a pre-hashed refresh
// secret. The password policy does not apply.
func (c Config) HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	return c.derive(secret)
}

func (c Config) derive(plain string) (string, error) {
	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	p := phc{params: c.Params, salt: salt}
	p.key = argon2.IDKey([]byte(plain), salt, c.Params.Iterations, c.Params.MemoryKiB, c.Params.Parallelism, c.Params.KeyLength)
	return p.String(), nil
}

// Verify reports whether plain matches encoded in constant time.
// A malformed hash, or one whose cost exceeds twice the configured
// parameters, yields ErrInvalidHash.
func (c Config) Verify(encoded, plain string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !c.acceptable(p.params) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(plain), p.salt, p.params.Iterations, p.params.MemoryKiB, p.params.Parallelism, p.params.KeyLength)
	return subtle.ConstantTimeCompare(key, p.key) == 1, nil
}

// acceptable bounds the work an attacker-supplied hash can demand.
func (c Config) acceptable(got Argon2idParams) bool {
	lim := c.Params
	return got.MemoryKiB <= lim.MemoryKiB*2 &&
		got.Iterations <= lim.Iterations*2 &&
		uint32(got.Parallelism) <= uint32(lim.Parallelism)*2 &&
		got.SaltLength >= 8 && got.SaltLength <= 64 &&
		got.KeyLength >= 16 && got.KeyLength <= 128
}

// IsEncodedHash reports whether s looks like a hash produced by this package.
func IsEncodedHash(s string) bool {
	return strings.HasPrefix(s, phcPrefix)
}
