package password

import (
	"fmt"
	"math"
	"runtime"

	"github.com/caarlos0/env/v11"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns a strong baseline for interactive logins and refresh secrets.
func DefaultConfig() Config {
	// Clamp to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      12,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// envOverrides holds optional overrides; nil means "keep the default".
type envOverrides struct {
	MinLen         *int    `env:"FMS_PASSWORD_MIN_LEN"`
	MaxLen         *int    `env:"FMS_PASSWORD_MAX_LEN"`
	RejectVeryWeak *bool   `env:"FMS_PASSWORD_REJECT_VERY_WEAK"`
	MemoryKiB      *uint32 `env:"FMS_ARGON2_MEMORY_KIB"`
	Iterations     *uint32 `env:"FMS_ARGON2_ITERATIONS"`
	Parallelism    *uint32 `env:"FMS_ARGON2_PARALLELISM"`
	SaltLen        *uint32 `env:"FMS_ARGON2_SALT_LEN"`
	KeyLen         *uint32 `env:"FMS_ARGON2_KEY_LEN"`
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - FMS_PASSWORD_MIN_LEN
// - FMS_PASSWORD_MAX_LEN
// - FMS_PASSWORD_REJECT_VERY_WEAK (true/false)
// - FMS_ARGON2_MEMORY_KIB
// - FMS_ARGON2_ITERATIONS
// - FMS_ARGON2_PARALLELISM
// - FMS_ARGON2_SALT_LEN
// - FMS_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return Config{}, fmt.Errorf("password config: %w", err)
	}

	if o.MinLen != nil {
		if err := intInRange("FMS_PASSWORD_MIN_LEN", *o.MinLen, 1, 1024); err != nil {
			return Config{}, err
		}
		cfg.Policy.MinLength = *o.MinLen
	}
	if o.MaxLen != nil {
		if err := intInRange("FMS_PASSWORD_MAX_LEN", *o.MaxLen, 1, 4096); err != nil {
			return Config{}, err
		}
		cfg.Policy.MaxLength = *o.MaxLen
	}
	if o.RejectVeryWeak != nil {
		cfg.Policy.RejectVeryWeak = *o.RejectVeryWeak
	}
	if o.MemoryKiB != nil {
		if err := u32InRange("FMS_ARGON2_MEMORY_KIB", *o.MemoryKiB, 8*1024, 1024*1024); err != nil {
			return Config{}, err
		}
		cfg.Params.MemoryKiB = *o.MemoryKiB
	}
	if o.Iterations != nil {
		if err := u32InRange("FMS_ARGON2_ITERATIONS", *o.Iterations, 1, 20); err != nil {
			return Config{}, err
		}
		cfg.Params.Iterations = *o.Iterations
	}
	if o.Parallelism != nil {
		if err := u32InRange("FMS_ARGON2_PARALLELISM", *o.Parallelism, 1, 64); err != nil {
			return Config{}, err
		}
		p, err := u32ToU8(*o.Parallelism)
		if err != nil {
			return Config{}, fmt.Errorf("FMS_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = p
	}
	if o.SaltLen != nil {
		if err := u32InRange("FMS_ARGON2_SALT_LEN", *o.SaltLen, 8, 64); err != nil {
			return Config{}, err
		}
		cfg.Params.SaltLength = *o.SaltLen
	}
	if o.KeyLen != nil {
		if err := u32InRange("FMS_ARGON2_KEY_LEN", *o.KeyLen, 16, 64); err != nil {
			return Config{}, err
		}
		cfg.Params.KeyLength = *o.KeyLen
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func intInRange(name string, v, minVal, maxVal int) error {
	if v < minVal || v > maxVal {
		return fmt.Errorf("%s: out of range [%d..%d]", name, minVal, maxVal)
	}
	return nil
}

func u32InRange(name string, v, minVal, maxVal uint32) error {
	if v < minVal || v > maxVal {
		return fmt.Errorf("%s: out of range [%d..%d]", name, minVal, maxVal)
	}
	return nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}
