package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fms/cmd/security/token"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"
)

const (
	bootstrapEmail    = "ops@example.com"
	bootstrapPassword = "bootstrap-passphrase-42"
)

// setSubsystemEnv configures the packages that read their own environment.
func setSubsystemEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FMS_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("FMS_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("FMS_ARGON2_ITERATIONS", "1")
	t.Setenv("FMS_ARGON2_PARALLELISM", "1")
	t.Setenv("FMS_AUTH_COOKIE_SECURE", "false")
	t.Setenv("FMS_REQUIRE_TOKEN_HMAC", "")
	t.Setenv("FMS_TOKEN_HMAC_KEY", "")
}

func testAppConfig(t *testing.T, extra map[string]string) Config {
	t.Helper()
	vars := map[string]string{
		"FMS_BOOTSTRAP_EMAIL":    bootstrapEmail,
		"FMS_BOOTSTRAP_PASSWORD": bootstrapPassword,
		"FMS_BOOTSTRAP_SCOPES":   "sales:read,sales:write",
	}
	for k, v := range extra {
		vars[k] = v
	}
	cfg, err := parseConfig(env.Options{Environment: vars})
	require.NoError(t, err)
	return cfg
}

func discardLogger() Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type tokenPair struct {
	PrincipalID  string `json:"principal_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, tokenPair) {
	t.Helper()
	res, err := srv.Client().Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()

	var out tokenPair
	if res.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	}
	return res, out
}

func getBody(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	res, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(b)
}

func exerciseAuthFlow(t *testing.T, a *App) {
	t.Helper()
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	res, login := postJSON(t, srv, "/auth/login",
		`{"email":"`+bootstrapEmail+`","password":"`+bootstrapPassword+`"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))
	require.NotEmpty(t, login.AccessToken)

	res, refreshed := postJSON(t, srv, "/auth/refresh", `{"refresh_token":"`+login.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, login.PrincipalID, refreshed.PrincipalID)

	res, _ = postJSON(t, srv, "/auth/login", `{"email":"`+bootstrapEmail+`","password":"nope-nope-nope"}`)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	code, body := getBody(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok\n", body)

	code, _ = getBody(t, srv, "/readyz")
	require.Equal(t, http.StatusOK, code)

	code, body = getBody(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `fms_session_rotations_total{outcome="rotated"} 1`)
	require.Contains(t, body, "go_goroutines")
}

func TestApp_MemoryStore(t *testing.T) {
	setSubsystemEnv(t)
	cfg := testAppConfig(t, nil)
	require.Equal(t, StoreMemory, cfg.SessionStore)

	a, err := New(t.Context(), cfg, discardLogger())
	require.NoError(t, err)
	exerciseAuthFlow(t, a)
}

func TestApp_SQLiteStoreMigratesOnStart(t *testing.T) {
	setSubsystemEnv(t)
	cfg := testAppConfig(t, map[string]string{
		"FMS_SESSION_STORE":    "sqlite",
		"FMS_SQLITE_PATH":      filepath.Join(t.TempDir(), "sessions.db"),
		"FMS_MIGRATE_ON_START": "true",
	})

	a, err := New(t.Context(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(a.close)
	exerciseAuthFlow(t, a)
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	setSubsystemEnv(t)
	cfg := testAppConfig(t, map[string]string{"FMS_READINESS_REQUIRE_DB": "true"})

	a, err := New(t.Context(), cfg, discardLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	code, _ := getBody(t, srv, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	setSubsystemEnv(t)
	cfg := testAppConfig(t, map[string]string{"FMS_HTTP_SHUTDOWN_TIMEOUT": "2s"})

	a, err := New(t.Context(), cfg, discardLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		res, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNew_RejectsBadSubsystemConfig(t *testing.T) {
	setSubsystemEnv(t)
	t.Setenv("FMS_JWT_SECRET", "short")

	_, err := New(t.Context(), testAppConfig(t, nil), discardLogger())
	require.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(env.Options{Environment: map[string]string{}})
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	require.Equal(t, StoreMemory, cfg.SessionStore)
	require.Equal(t, 15*time.Second, cfg.ReadTimeout)
	require.Equal(t, 1<<20, cfg.MaxHeaderBytes)

	cfg, err = parseConfig(env.Options{Environment: map[string]string{
		"FMS_DATABASE_URL":         "postgres://fms@localhost/fms",
		"FMS_CORS_ALLOWED_ORIGINS": "https://a.example.com,http://127.0.0.1:*",
	}})
	require.NoError(t, err)
	require.Equal(t, StorePostgres, cfg.SessionStore)
	require.Equal(t, []string{"https://a.example.com", "http://127.0.0.1:*"}, cfg.CORSAllowedOrigins)

	invalid := []map[string]string{
		{"FMS_SESSION_STORE": "redis"},
		{"FMS_SESSION_STORE": "postgres"},
		{"FMS_SESSION_STORE": "sqlite", "FMS_SQLITE_PATH": " "},
		{"FMS_LOG_FORMAT": "xml"},
		{"FMS_DB_MAX_CONNS": "2", "FMS_DB_MIN_CONNS": "5"},
		{"FMS_BOOTSTRAP_EMAIL": "a@example.com"},
		{"FMS_HTTP_READ_TIMEOUT": "soon"},
	}
	for _, vars := range invalid {
		_, err := parseConfig(env.Options{Environment: vars})
		require.Error(t, err, "%v", vars)
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	key := strings.Repeat("k", 32)

	t.Setenv(token.HMACEnvKey, "")
	require.NoError(t, ValidateSecurityConfig(Config{}, token.Prehasher{}))
	require.ErrorContains(t, ValidateSecurityConfig(Config{RequireTokenHMAC: true}, token.Prehasher{}), "missing")

	t.Setenv(token.HMACEnvKey, "too-short")
	require.ErrorContains(t, ValidateSecurityConfig(Config{RequireTokenHMAC: true}, token.PrehasherFromEnv()), "too short")

	t.Setenv(token.HMACEnvKey, key)
	require.ErrorContains(t, ValidateSecurityConfig(Config{RequireTokenHMAC: true}, token.Prehasher{}), "not in HMAC mode")
	require.NoError(t, ValidateSecurityConfig(Config{RequireTokenHMAC: true}, token.PrehasherFromEnv()))
}

func TestSetupTracing_DisabledIsNoop(t *testing.T) {
	for _, cfg := range []Config{{}, {OTelEndpoint: "http://collector:4318", OTelEnabled: false}} {
		shutdown, err := SetupTracing(t.Context(), cfg)
		require.NoError(t, err)
		require.NoError(t, shutdown(t.Context()))
	}
}
