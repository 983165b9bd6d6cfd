package authapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy   bool  `env:"FMS_AUTH_TRUST_PROXY" envDefault:"false"`
	MaxBodyBytes int64 `env:"FMS_AUTH_MAX_BODY_BYTES" envDefault:"65536"`

	// Failed logins per client IP within LoginIPWindow before 429.
	LoginIPMax    int           `env:"FMS_AUTH_LOGIN_IP_MAX" envDefault:"20"`
	LoginIPWindow time.Duration `env:"FMS_AUTH_LOGIN_IP_WINDOW" envDefault:"5m"`

	// RefreshCookieEnabled moves the refresh credential into an httpOnly
	// cookie guarded by a double-submit CSRF token.
	RefreshCookieEnabled bool   `env:"FMS_AUTH_REFRESH_COOKIE" envDefault:"false"`
	RefreshCookieName    string `env:"FMS_AUTH_REFRESH_COOKIE_NAME" envDefault:"fms_refresh"`
	CSRFCookieName       string `env:"FMS_AUTH_CSRF_COOKIE_NAME" envDefault:"fms_csrf"`
	CSRFHeaderName       string `env:"FMS_AUTH_CSRF_HEADER_NAME" envDefault:"X-CSRF-Token"`
	CookiePath           string `env:"FMS_AUTH_COOKIE_PATH" envDefault:"/auth"`
	CookieDomain         string `env:"FMS_AUTH_COOKIE_DOMAIN"`
	CookieSecure         bool   `env:"FMS_AUTH_COOKIE_SECURE" envDefault:"true"`
	CookieSameSiteRaw    string `env:"FMS_AUTH_COOKIE_SAMESITE" envDefault:"strict"`

	CookieSameSite http.SameSite `env:"-"`
}

// DefaultConfig returns the documented defaults without reading the environment.
func DefaultConfig() Config {
	cfg, err := parse(env.Options{Environment: map[string]string{}})
	if err != nil {
		panic(err) // defaults are static
	}
	return cfg
}

// LoadConfigFromEnv loads auth API config from environment variables.
func LoadConfigFromEnv() (Config, error) {
	return parse(env.Options{})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("auth api config: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.CookieSameSiteRaw)) {
	case "strict":
		cfg.CookieSameSite = http.SameSiteStrictMode
	case "lax":
		cfg.CookieSameSite = http.SameSiteLaxMode
	case "none":
		cfg.CookieSameSite = http.SameSiteNoneMode
		// Browsers drop SameSite=None cookies without Secure.
		cfg.CookieSecure = true
	default:
		return Config{}, fmt.Errorf("auth api config: FMS_AUTH_COOKIE_SAMESITE must be strict, lax or none")
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("auth api config: FMS_AUTH_MAX_BODY_BYTES must be positive")
	}
	if cfg.LoginIPMax < 0 || cfg.LoginIPWindow <= 0 {
		return Config{}, fmt.Errorf("auth api config: login throttle settings must be positive")
	}
	if cfg.RefreshCookieEnabled && (strings.TrimSpace(cfg.RefreshCookieName) == "" || strings.TrimSpace(cfg.CSRFCookieName) == "" || strings.TrimSpace(cfg.CSRFHeaderName) == "") {
		return Config{}, fmt.Errorf("auth api config: cookie and csrf names are required when the refresh cookie is enabled")
	}
	return cfg, nil
}
