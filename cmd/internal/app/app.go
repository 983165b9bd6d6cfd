// Package app wires the fms server runtime: config, logging, database pools,
// session store selection, the auth HTTP routes, the expiry sweeper and
// /metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"fms/cmd/identity"
	"fms/cmd/internal/auth"
	authapi "fms/cmd/internal/auth/api"
	"fms/cmd/internal/auth/session"
	"fms/cmd/internal/db"
	"fms/cmd/security/password"
	"fms/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the fms server runtime. It owns the HTTP server, the database
// resources and the sweeper lifecycle.
type App struct {
	cfg Config
	log Logger

	pool   *pgxpool.Pool
	sqlite *session.SQLiteStore

	directory identity.Directory
	sessions  *session.Manager
	sweeper   *session.Sweeper
	registry  *prometheus.Registry
	handler   http.Handler
}

// New constructs a fully wired App from cfg. Subsystem settings (session,
// password hashing, auth API) are read from the environment by their packages.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	pre := token.PrehasherFromEnv()
	if err := ValidateSecurityConfig(cfg, pre); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := a.migrate(); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL != "" {
		if a.pool, err = NewDBPool(ctx, cfg); err != nil {
			return nil, fmt.Errorf("app: db pool: %w", err)
		}
	}

	hasher, err := identity.NewPasswordHasher(pwCfg)
	if err != nil {
		return nil, err
	}
	if a.pool != nil {
		if a.directory, err = identity.NewPostgresDirectory(a.pool, hasher); err != nil {
			return nil, err
		}
	} else {
		a.directory = identity.NewMemoryDirectory(hasher)
	}
	if err := a.bootstrap(ctx); err != nil {
		return nil, err
	}

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	log.Info("session.store", "backend", cfg.SessionStore)

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := session.NewMetrics(a.registry)

	a.sessions, err = session.NewManager(sessCfg, store, pwCfg,
		session.WithOwnerChecker(a.directory),
		session.WithPrehasher(pre),
		session.WithMetrics(metrics),
		session.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewAccessTokenIssuer(sessCfg)
	if err != nil {
		return nil, err
	}
	svc, err := auth.NewService(a.directory, a.sessions, tokens, auth.WithLogger(log))
	if err != nil {
		return nil, err
	}
	authHandler, err := authapi.NewHandler(log, apiCfg, svc, authapi.WithSessionLister(a.sessions))
	if err != nil {
		return nil, err
	}

	a.sweeper, err = session.NewSweeper(sessCfg, store,
		session.WithSweeperMetrics(metrics),
		session.WithSweeperLogger(log),
	)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, routes{log: log, cfg: cfg, pool: a.pool, gatherer: a.registry, auth: authHandler})
	a.handler = WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log)

	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the sweeper and the HTTP server and blocks until ctx is canceled
// or the server fails. Shutdown drains HTTP, then waits for an in-flight sweep.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.close()
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.close()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.sweeper.Start()
	a.log.Info("server.start", "addr", ln.Addr().String(), "store", a.cfg.SessionStore, "db_enabled", a.pool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case serveErr = <-errCh:
		a.log.Error("server.fail", "err", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		serveErr = errors.Join(serveErr, err)
	}
	if err := a.sweeper.Stop(shutdownCtx); err != nil {
		a.log.Error("session.sweep.stop.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return serveErr
}

func (a *App) migrate() error {
	if !a.cfg.MigrateOnStart {
		return nil
	}
	if a.cfg.DatabaseURL != "" {
		if err := db.Migrate(db.DriverPostgres, a.cfg.DatabaseURL, "up", a.log); err != nil {
			return err
		}
	}
	if a.cfg.SessionStore == StoreSQLite {
		if err := db.Migrate(db.DriverSQLite, a.cfg.SQLitePath, "up", a.log); err != nil {
			return err
		}
	}
	return nil
}

// openStore selects the session backend named by cfg.SessionStore.
func (a *App) openStore() (session.Store, error) {
	switch a.cfg.SessionStore {
	case StorePostgres:
		if a.pool == nil {
			return nil, errors.New("app: postgres session store needs FMS_DATABASE_URL")
		}
		st, err := session.NewPostgresStore(a.pool)
		if err != nil {
			return nil, err
		}
		return st, nil
	case StoreSQLite:
		st, err := session.OpenSQLiteStore(a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.sqlite = st
		return st, nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// bootstrap creates the configured bootstrap principal unless it exists.
func (a *App) bootstrap(ctx context.Context) error {
	if a.cfg.BootstrapEmail == "" {
		return nil
	}
	p, err := a.directory.CreatePrincipal(ctx, identity.CreatePrincipalInput{
		Email:    a.cfg.BootstrapEmail,
		Password: a.cfg.BootstrapPassword,
		Scopes:   a.cfg.BootstrapScopes,
	})
	switch {
	case identity.IsConflict(err):
		a.log.Info("identity.bootstrap.exists", "email", identity.NormalizeEmail(a.cfg.BootstrapEmail))
		return nil
	case err != nil:
		return fmt.Errorf("app: bootstrap principal: %w", err)
	}
	a.log.Info("identity.bootstrap.created", "principal_id", p.ID)
	return nil
}

func (a *App) close() {
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
		a.sqlite = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
