package session

import (
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "fms", cfg.Issuer)
	require.Equal(t, FormatJWT, cfg.AccessTokenFormat)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTTL())
	require.Equal(t, 5*time.Second, cfg.RefreshReuseGrace)
	require.Equal(t, "0 0 * * * *", cfg.SweepSchedule)

	// No signing material by default.
	require.ErrorIs(t, cfg.Validate(), ErrConfig)
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("FMS_JWT_SECRET", testJWTSecret)
	t.Setenv("FMS_AUTH_ISSUER", "fms-test")
	t.Setenv("FMS_ACCESS_TTL", "10m")
	t.Setenv("FMS_AUTH_CLOCK_SKEW", "20s")
	t.Setenv("FMS_REFRESH_TTL_MINUTES", "120")
	t.Setenv("FMS_REFRESH_SECRET_BYTES", "48")
	t.Setenv("FMS_SESSION_SWEEP_CRON", "@every 10m")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "fms-test", cfg.Issuer)
	require.Equal(t, 10*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 20*time.Second, cfg.ClockSkew)
	require.Equal(t, 2*time.Hour, cfg.RefreshTTL())
	require.Equal(t, 48, cfg.RefreshSecretBytes)
	require.Equal(t, "@every 10m", cfg.SweepSchedule)
}

func TestLoadConfigFromEnv_Paseto(t *testing.T) {
	t.Setenv("FMS_ACCESS_TOKEN_FORMAT", " PASETO ")
	t.Setenv("FMS_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, FormatPaseto, cfg.AccessTokenFormat)
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing jwt secret", map[string]string{"FMS_JWT_SECRET": ""}},
		{"short jwt secret", map[string]string{"FMS_JWT_SECRET": "short"}},
		{"bad paseto key", map[string]string{"FMS_ACCESS_TOKEN_FORMAT": "paseto", "FMS_PASETO_V4_SECRET_KEY_HEX": "zz"}},
		{"unknown format", map[string]string{"FMS_ACCESS_TOKEN_FORMAT": "saml"}},
		{"negative access ttl", map[string]string{"FMS_ACCESS_TTL": "-5m"}},
		{"unparsable duration", map[string]string{"FMS_ACCESS_TTL": "soon"}},
		{"zero refresh ttl", map[string]string{"FMS_REFRESH_TTL_MINUTES": "0"}},
		{"small refresh secret", map[string]string{"FMS_REFRESH_SECRET_BYTES": "16"}},
		{"large refresh secret", map[string]string{"FMS_REFRESH_SECRET_BYTES": "65"}},
		{"grace beyond ttl", map[string]string{"FMS_REFRESH_TTL_MINUTES": "1", "FMS_REFRESH_REUSE_GRACE": "2m"}},
		{"bad cron", map[string]string{"FMS_SESSION_SWEEP_CRON": "every hour"}},
		{"zero sweep timeout", map[string]string{"FMS_SESSION_SWEEP_TIMEOUT": "0s"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("FMS_JWT_SECRET", testJWTSecret)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfigFromEnv()
			require.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"0 0 * * * *", "*/5 * * * *", "@hourly", "@every 90s"} {
		_, err := ParseSchedule(spec)
		require.NoError(t, err, spec)
	}
	_, err := ParseSchedule("61 * * * *")
	require.Error(t, err)
}
