package auth

import (
	"context"
	"testing"
	"time"

	"fms/cmd/identity"
	"fms/cmd/internal/auth/session"
	"fms/cmd/security/password"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	testEmail    = "owner@example.com"
	testPassword = "correct horse battery"
)

type fixture struct {
	svc      *Service
	dir      *identity.MemoryDirectory
	sessions *session.Manager
	store    *session.MemoryStore
	spans    *tracetest.SpanRecorder
	clock    *time.Time
	owner    identity.Principal
}

func fastPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	cfg.Policy.MinLength = 8
	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{clock: &now, store: session.NewMemoryStore(), spans: tracetest.NewSpanRecorder()}
	clock := func() time.Time { return *f.clock }

	hasher, err := identity.NewPasswordHasher(fastPasswordConfig())
	require.NoError(t, err)
	f.dir = identity.NewMemoryDirectory(hasher)

	f.owner, err = f.dir.CreatePrincipal(t.Context(), identity.CreatePrincipalInput{
		Email:    testEmail,
		Password: testPassword,
		Scopes:   []string{"sales:read"},
		Now:      now,
	})
	require.NoError(t, err)

	cfg := session.DefaultConfig()
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"

	f.sessions, err = session.NewManager(cfg, f.store, fastPasswordConfig(),
		session.WithOwnerChecker(f.dir),
		session.WithClock(clock),
	)
	require.NoError(t, err)

	tokens, err := session.NewAccessTokenIssuer(cfg)
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f.svc, err = NewService(f.dir, f.sessions, tokens, WithClock(clock), WithTracerProvider(tp))
	require.NoError(t, err)
	return f
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func TestLogin_IssuesAccessAndRefresh(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Login(t.Context(), " OWNER@example.com ", testPassword, session.ClientMeta{UserAgent: "test"})
	require.NoError(t, err)
	require.Equal(t, f.owner.ID, res.PrincipalID)
	require.NotEmpty(t, res.AccessToken)
	require.True(t, res.AccessExpiresAt.After(*f.clock))
	require.True(t, res.RefreshExpiresAt.After(res.AccessExpiresAt))

	claims, err := f.svc.Authenticate(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, f.owner.ID, claims.Subject)
	require.Equal(t, []string{"sales:read"}, claims.Scopes)

	_, _, err = session.SplitCredential(res.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, 1, f.store.Len())
}

func TestLogin_InvalidCredentialsAreUniform(t *testing.T) {
	f := newFixture(t)

	_, errWrong := f.svc.Login(t.Context(), testEmail, "wrong password", session.ClientMeta{})
	_, errUnknown := f.svc.Login(t.Context(), "nobody@example.com", testPassword, session.ClientMeta{})
	_, errEmpty := f.svc.Login(t.Context(), "", "", session.ClientMeta{})

	for _, err := range []error{errWrong, errUnknown, errEmpty} {
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	require.Equal(t, errWrong.Error(), errUnknown.Error())
	require.Equal(t, 0, f.store.Len())

	spans := f.spans.Ended()
	require.Len(t, spans, 3)
	require.Equal(t, "auth.Login", spans[0].Name())
}

func TestRefresh_RederivesScopes(t *testing.T) {
	f := newFixture(t)

	login, err := f.svc.Login(t.Context(), testEmail, testPassword, session.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, f.dir.SetScopes(t.Context(), f.owner.ID, []string{"admin", "sales:write"}))
	f.advance(time.Minute)

	res, err := f.svc.Refresh(t.Context(), login.RefreshToken, session.ClientMeta{})
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, res.RefreshToken)

	claims, err := f.svc.Authenticate(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{"admin", "sales:write"}, claims.Scopes)
}

func TestRefresh_ReplayRevokesEverything(t *testing.T) {
	f := newFixture(t)

	login, err := f.svc.Login(t.Context(), testEmail, testPassword, session.ClientMeta{})
	require.NoError(t, err)
	rotated, err := f.svc.Refresh(t.Context(), login.RefreshToken, session.ClientMeta{})
	require.NoError(t, err)

	f.advance(time.Minute)
	_, err = f.svc.Refresh(t.Context(), login.RefreshToken, session.ClientMeta{})
	require.ErrorIs(t, err, session.ErrRefreshReuseDetected)

	_, err = f.svc.Refresh(t.Context(), rotated.RefreshToken, session.ClientMeta{})
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	require.Equal(t, 0, f.store.Len())
}

func TestRefresh_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Refresh(t.Context(), "garbage", session.ClientMeta{})
	require.ErrorIs(t, err, session.ErrInvalidCredentialFormat)

	login, err := f.svc.Login(t.Context(), testEmail, testPassword, session.ClientMeta{})
	require.NoError(t, err)

	f.advance(8 * 24 * time.Hour)
	_, err = f.svc.Refresh(t.Context(), login.RefreshToken, session.ClientMeta{})
	require.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestRefresh_PrincipalDeleted(t *testing.T) {
	f := newFixture(t)

	login, err := f.svc.Login(t.Context(), testEmail, testPassword, session.ClientMeta{})
	require.NoError(t, err)

	// The in-memory directory does not cascade into the session store.
	require.NoError(t, f.dir.DeletePrincipal(t.Context(), f.owner.ID))

	_, err = f.svc.Refresh(t.Context(), login.RefreshToken, session.ClientMeta{})
	require.ErrorIs(t, err, session.ErrPrincipalNotFound)
	require.Equal(t, 0, f.store.Len())
}

func TestLogout(t *testing.T) {
	f := newFixture(t)

	for range 2 {
		_, err := f.svc.Login(t.Context(), testEmail, testPassword, session.ClientMeta{})
		require.NoError(t, err)
	}

	n, err := f.svc.Logout(t.Context(), f.owner.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, 0, f.store.Len())
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	require.Error(t, err)
}
