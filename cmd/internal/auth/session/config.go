package session

import (
	"strings"
	"time"

	"fms/cmd/security/token"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/caarlos0/env/v11"
)

// Access-token formats.
const (
	FormatJWT    = "jwt"
	FormatPaseto = "paseto"
)

// Config defines all runtime configuration for the session subsystem.
//
// Signing-material problems are reported by Validate at startup; token
// issuance never fails on configuration afterwards.
type Config struct {
	// Issuer is the "iss" claim of access tokens.
	Issuer string `env:"FMS_AUTH_ISSUER" envDefault:"fms"`

	// AccessTokenFormat selects the issuer: "jwt" (HS256) or "paseto" (v4.public).
	AccessTokenFormat string `env:"FMS_ACCESS_TOKEN_FORMAT" envDefault:"jwt"`

	AccessTokenTTL time.Duration `env:"FMS_ACCESS_TTL" envDefault:"15m"`

	// ClockSkew is tolerated when verifying access tokens.
	ClockSkew time.Duration `env:"FMS_AUTH_CLOCK_SKEW" envDefault:"30s"`

	// JWTSecret is the HS256 key; at least 32 bytes.
	JWTSecret string `env:"FMS_JWT_SECRET"`

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key for v4.public.
	PasetoV4SecretKeyHex string `env:"FMS_PASETO_V4_SECRET_KEY_HEX"`

	RefreshTTLMinutes int `env:"FMS_REFRESH_TTL_MINUTES" envDefault:"10080"`

	// RefreshSecretBytes is the entropy of refresh secrets.
	RefreshSecretBytes int `env:"FMS_REFRESH_SECRET_BYTES" envDefault:"32"`

	// RefreshReuseGrace is how long a just-retired session id is answered with a
	// plain not-found instead of a cascade revocation. Covers concurrent refreshes
	// racing on the same credential.
	RefreshReuseGrace time.Duration `env:"FMS_REFRESH_REUSE_GRACE" envDefault:"5s"`

	// SweepSchedule is a cron expression (seconds field optional) or descriptor.
	SweepSchedule string `env:"FMS_SESSION_SWEEP_CRON" envDefault:"0 0 * * * *"`

	// SweepTimeout bounds a single sweep tick.
	SweepTimeout time.Duration `env:"FMS_SESSION_SWEEP_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns the documented defaults without reading the environment.
// Signing material is empty and must be supplied before Validate passes.
func DefaultConfig() Config {
	var cfg Config
	// Tag defaults only; an empty environment cannot fail to parse.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// LoadConfigFromEnv loads and validates session configuration.
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, configErr("%v", err)
	}
	cfg.AccessTokenFormat = strings.ToLower(strings.TrimSpace(cfg.AccessTokenFormat))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RefreshTTL is the lifetime of a refresh session.
func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLMinutes) * time.Minute
}

// Validate checks invariants and signing material.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return configErr("FMS_AUTH_ISSUER is empty")
	}
	if c.AccessTokenTTL <= 0 {
		return configErr("FMS_ACCESS_TTL must be positive")
	}
	if c.ClockSkew < 0 {
		return configErr("FMS_AUTH_CLOCK_SKEW must not be negative")
	}
	if c.RefreshTTLMinutes <= 0 {
		return configErr("FMS_REFRESH_TTL_MINUTES must be positive")
	}
	if c.RefreshSecretBytes < token.MinSecretBytes || c.RefreshSecretBytes > token.MaxSecretBytes {
		return configErr("FMS_REFRESH_SECRET_BYTES must be in [%d..%d]", token.MinSecretBytes, token.MaxSecretBytes)
	}
	if c.RefreshReuseGrace < 0 || c.RefreshReuseGrace >= c.RefreshTTL() {
		return configErr("FMS_REFRESH_REUSE_GRACE must be in [0, refresh ttl)")
	}
	if c.SweepTimeout <= 0 {
		return configErr("FMS_SESSION_SWEEP_TIMEOUT must be positive")
	}
	if _, err := ParseSchedule(c.SweepSchedule); err != nil {
		return configErr("FMS_SESSION_SWEEP_CRON: %v", err)
	}

	switch c.AccessTokenFormat {
	case FormatJWT:
		if len(c.JWTSecret) < minJWTSecretBytes {
			return configErr("FMS_JWT_SECRET must be at least %d bytes", minJWTSecretBytes)
		}
	case FormatPaseto:
		if _, err := paseto.NewV4AsymmetricSecretKeyFromHex(c.PasetoV4SecretKeyHex); err != nil {
			return configErr("FMS_PASETO_V4_SECRET_KEY_HEX is not a valid v4 secret key")
		}
	default:
		return configErr("FMS_ACCESS_TOKEN_FORMAT must be %q or %q", FormatJWT, FormatPaseto)
	}
	return nil
}
