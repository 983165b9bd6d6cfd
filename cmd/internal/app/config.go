package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Session store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"FMS_HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"FMS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"FMS_LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"FMS_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"FMS_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"FMS_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"FMS_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"FMS_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes    int           `env:"FMS_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	DatabaseURL string `env:"FMS_DATABASE_URL"`
	DBMaxConns  int32  `env:"FMS_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"FMS_DB_MIN_CONNS" envDefault:"0"`

	// SessionStore is postgres, sqlite or memory. Empty picks postgres when
	// DatabaseURL is set and memory otherwise.
	SessionStore string `env:"FMS_SESSION_STORE"`
	SQLitePath   string `env:"FMS_SQLITE_PATH" envDefault:"fms.db"`

	// MigrateOnStart applies pending migrations before serving.
	MigrateOnStart bool `env:"FMS_MIGRATE_ON_START" envDefault:"false"`

	// ReadinessRequireDB makes /readyz fail unless Postgres is configured and reachable.
	ReadinessRequireDB bool `env:"FMS_READINESS_REQUIRE_DB" envDefault:"false"`

	// RequireTokenHMAC refuses to start unless refresh secrets are peppered
	// with FMS_TOKEN_HMAC_KEY.
	RequireTokenHMAC bool `env:"FMS_REQUIRE_TOKEN_HMAC" envDefault:"false"`

	CORSAllowedOrigins   []string `env:"FMS_CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"FMS_CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAgeSeconds    int      `env:"FMS_CORS_MAX_AGE_SECONDS" envDefault:"600"`

	// Bootstrap principal, created at startup when both are set. Mostly for
	// the in-memory directory.
	BootstrapEmail    string   `env:"FMS_BOOTSTRAP_EMAIL"`
	BootstrapPassword string   `env:"FMS_BOOTSTRAP_PASSWORD"`
	BootstrapScopes   []string `env:"FMS_BOOTSTRAP_SCOPES" envSeparator:","`

	ServiceName  string `env:"FMS_SERVICE_NAME" envDefault:"fms"`
	OTelEndpoint string `env:"FMS_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"FMS_OTEL_ENABLED" envDefault:"true"`
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("app config: %w", err)
	}

	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	if cfg.SessionStore == "" {
		cfg.SessionStore = StoreMemory
		if cfg.DatabaseURL != "" {
			cfg.SessionStore = StorePostgres
		}
	}

	switch cfg.SessionStore {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("app config: FMS_SESSION_STORE=postgres requires FMS_DATABASE_URL")
		}
	case StoreSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return Config{}, fmt.Errorf("app config: FMS_SESSION_STORE=sqlite requires FMS_SQLITE_PATH")
		}
	case StoreMemory:
	default:
		return Config{}, fmt.Errorf("app config: FMS_SESSION_STORE must be postgres, sqlite or memory")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json", "pretty":
	default:
		return Config{}, fmt.Errorf("app config: FMS_LOG_FORMAT must be json or pretty")
	}
	if cfg.DBMinConns < 0 || cfg.DBMaxConns < 0 || (cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns) {
		return Config{}, fmt.Errorf("app config: invalid db pool bounds")
	}
	if (cfg.BootstrapEmail == "") != (cfg.BootstrapPassword == "") {
		return Config{}, fmt.Errorf("app config: FMS_BOOTSTRAP_EMAIL and FMS_BOOTSTRAP_PASSWORD go together")
	}
	return cfg, nil
}
