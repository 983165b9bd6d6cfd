// Package auth is the composition root of the authentication subsystem: it
// ties credential verification, access-token issuance and refresh sessions
// together into Login, Refresh and Logout.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"fms/cmd/identity"
	"fms/cmd/internal/auth/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fms/auth"

// ErrInvalidCredentials is returned by Login for an unknown identifier and for
// a wrong secret alike.
var ErrInvalidCredentials = identity.ErrInvalidCredentials

// Principals is the part of the identity directory the service needs.
type Principals interface {
	VerifyCredentials(ctx context.Context, identifier, secret string) (identity.Principal, error)
	GetByID(ctx context.Context, id string) (identity.Principal, error)
}

// Sessions is the refresh-session manager as used by the service.
type Sessions interface {
	Create(ctx context.Context, ownerID string, meta session.ClientMeta) (session.Issued, error)
	Rotate(ctx context.Context, composite string, meta session.ClientMeta) (session.Issued, error)
	RevokeAll(ctx context.Context, ownerID string) (int64, error)
}

// Result is returned by Login and Refresh.
type Result struct {
	PrincipalID      string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Service implements the login and refresh flows.
type Service struct {
	principals Principals
	sessions   Sessions
	tokens     session.AccessTokenIssuer

	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the collaborators. All three are required.
func NewService(principals Principals, sessions Sessions, tokens session.AccessTokenIssuer, opts ...Option) (*Service, error) {
	if principals == nil || sessions == nil || tokens == nil {
		return nil, errors.New("auth: principals, sessions and tokens are required")
	}
	s := &Service{
		principals: principals,
		sessions:   sessions,
		tokens:     tokens,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:     otel.Tracer(tracerName),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login verifies identifier and secret, then issues an access token and a new
// refresh session.
func (s *Service) Login(ctx context.Context, identifier, secret string, meta session.ClientMeta) (_ Result, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer func() { endSpan(span, err) }()

	p, err := s.principals.VerifyCredentials(ctx, identifier, secret)
	if err != nil {
		if identity.IsInvalidCredentials(err) || identity.IsInvalidInput(err) {
			s.log.InfoContext(ctx, "auth.login.rejected", "ip", ipAttr(meta))
			return Result{}, ErrInvalidCredentials
		}
		return Result{}, fmt.Errorf("auth: verify credentials: %w", err)
	}
	span.SetAttributes(attribute.String("fms.principal_id", p.ID))

	access, accessExp, err := s.tokens.Issue(p.ID, p.Scopes, s.now())
	if err != nil {
		return Result{}, fmt.Errorf("auth: issue access token: %w", err)
	}

	issued, err := s.sessions.Create(ctx, p.ID, meta)
	if err != nil {
		if errors.Is(err, session.ErrPrincipalNotFound) {
			s.log.ErrorContext(ctx, "auth.login.principal_missing", "principal_id", p.ID)
		}
		return Result{}, err
	}

	s.log.InfoContext(ctx, "auth.login.ok", "principal_id", p.ID, "ip", ipAttr(meta))
	return newResult(p.ID, access, accessExp, issued), nil
}

// Refresh rotates the refresh credential and issues an access token carrying
// the owner's current scopes.
func (s *Service) Refresh(ctx context.Context, composite string, meta session.ClientMeta) (_ Result, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer func() { endSpan(span, err) }()

	issued, err := s.sessions.Rotate(ctx, composite, meta)
	if err != nil {
		if errors.Is(err, session.ErrRefreshReuseDetected) {
			span.SetAttributes(attribute.Bool("fms.reuse_detected", true))
		}
		return Result{}, err
	}
	span.SetAttributes(attribute.String("fms.principal_id", issued.OwnerID))

	p, err := s.principals.GetByID(ctx, issued.OwnerID)
	if err != nil {
		if !identity.IsNotFound(err) {
			return Result{}, fmt.Errorf("auth: load principal: %w", err)
		}
		// The owner vanished between rotation and lookup; drop what we just minted.
		n, rerr := s.sessions.RevokeAll(ctx, issued.OwnerID)
		s.log.ErrorContext(ctx, "auth.refresh.principal_missing",
			"principal_id", issued.OwnerID,
			"revoked", n,
			"revoke_err", rerr,
		)
		return Result{}, session.ErrPrincipalNotFound
	}

	access, accessExp, err := s.tokens.Issue(p.ID, p.Scopes, s.now())
	if err != nil {
		return Result{}, fmt.Errorf("auth: issue access token: %w", err)
	}
	return newResult(p.ID, access, accessExp, issued), nil
}

// Logout revokes every refresh session of principalID. Outstanding access
// tokens stay valid until they expire.
func (s *Service) Logout(ctx context.Context, principalID string) (n int64, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Logout",
		trace.WithAttributes(attribute.String("fms.principal_id", principalID)))
	defer func() { endSpan(span, err) }()

	n, err = s.sessions.RevokeAll(ctx, principalID)
	if err != nil {
		return 0, err
	}
	s.log.InfoContext(ctx, "auth.logout.ok", "principal_id", principalID, "revoked", n)
	return n, nil
}

// Authenticate verifies an access token and returns its claims.
func (s *Service) Authenticate(accessToken string) (session.AccessClaims, error) {
	return s.tokens.Verify(accessToken, s.now())
}

func newResult(principalID, access string, accessExp time.Time, issued session.Issued) Result {
	return Result{
		PrincipalID:      principalID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     issued.Credential,
		RefreshExpiresAt: issued.ExpiresAt,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func ipAttr(meta session.ClientMeta) string {
	if !meta.IP.IsValid() {
		return ""
	}
	return meta.IP.String()
}
