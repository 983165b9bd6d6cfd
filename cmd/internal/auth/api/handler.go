// Package authapi exposes the auth service over HTTP.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"
	"unicode/utf8"

	"fms/cmd/internal/auth"
	"fms/cmd/internal/auth/session"
)

const maxUserAgentLen = 512

// Service is the auth orchestrator as seen by the HTTP layer.
type Service interface {
	Login(ctx context.Context, identifier, secret string, meta session.ClientMeta) (auth.Result, error)
	Refresh(ctx context.Context, composite string, meta session.ClientMeta) (auth.Result, error)
	Logout(ctx context.Context, principalID string) (int64, error)
	Authenticate(accessToken string) (session.AccessClaims, error)
}

// SessionLister lists a principal's live refresh sessions.
type SessionLister interface {
	ListSessions(ctx context.Context, ownerID string) ([]session.Row, error)
}

// Handler wires HTTP auth endpoints to the auth service.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	svc     Service
	lister  SessionLister
	limiter *failureLimiter
	now     func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithSessionLister enables GET /auth/sessions.
func WithSessionLister(l SessionLister) HandlerOption {
	return func(h *Handler) { h.lister = l }
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, svc Service, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("authapi: nil service")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:     log,
		cfg:     cfg,
		svc:     svc,
		limiter: newFailureLimiter(cfg.LoginIPMax, cfg.LoginIPWindow),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	if h.lister != nil {
		mux.HandleFunc("/auth/sessions", h.handleSessions)
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	meta := h.clientMeta(r)
	now := h.now()

	if blocked, retryAfter := h.limiter.blocked(meta.IP, now); blocked {
		h.audit(ctx, "auth.login.rate_limited", meta.IP, meta.UserAgent)
		writeRateLimited(w, retryAfter)
		return
	}

	res, err := h.svc.Login(ctx, req.Email, req.Password, meta)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.limiter.fail(meta.IP, now)
			h.audit(ctx, "auth.login.failed", meta.IP, meta.UserAgent)
			writeUnauthorized(w, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.ErrorContext(ctx, "auth.login.fail", "err", err)
		writeInternal(w)
		return
	}
	h.limiter.reset(meta.IP)
	h.audit(ctx, "auth.login.success", meta.IP, meta.UserAgent, "principal_id", res.PrincipalID)

	h.writeTokens(w, r, res, h.cfg.RefreshCookieEnabled)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}

	credential := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if credential == "" {
		credential, fromCookie = h.refreshFromCookie(r)
	}
	if credential == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	if fromCookie && !h.csrfValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	meta := h.clientMeta(r)

	res, err := h.svc.Refresh(ctx, credential, meta)
	if err != nil {
		if !isRefreshRejection(err) {
			h.log.ErrorContext(ctx, "auth.refresh.fail", "err", err)
			writeInternal(w)
			return
		}
		if errors.Is(err, session.ErrRefreshReuseDetected) {
			h.audit(ctx, "auth.refresh.reuse_detected", meta.IP, meta.UserAgent)
		}
		h.clearRefreshCookies(w)
		// One answer for every rejection so callers cannot tell them apart.
		writeUnauthorized(w, "invalid_refresh_token", "refresh token invalid or expired")
		return
	}
	h.audit(ctx, "auth.refresh.success", meta.IP, meta.UserAgent, "principal_id", res.PrincipalID)

	h.writeTokens(w, r, res, fromCookie)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	n, err := h.svc.Logout(ctx, claims.Subject)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.logout.fail", "err", err)
		writeInternal(w)
		return
	}

	meta := h.clientMeta(r)
	h.audit(ctx, "auth.logout", meta.IP, meta.UserAgent, "principal_id", claims.Subject, "revoked", n)
	h.clearRefreshCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	rows, err := h.lister.ListSessions(r.Context(), claims.Subject)
	if err != nil {
		h.log.ErrorContext(r.Context(), "auth.sessions.fail", "err", err)
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, toSessionsResponse(rows))
}

// writeTokens answers with the token pair. With cookie transport the refresh
// credential goes into the cookie only.
func (h *Handler) writeTokens(w http.ResponseWriter, r *http.Request, res auth.Result, cookie bool) {
	resp := toTokenResponse(res)
	if cookie && h.cfg.RefreshCookieEnabled {
		if err := h.setRefreshCookies(w, res.RefreshToken, res.RefreshExpiresAt); err != nil {
			h.log.ErrorContext(r.Context(), "auth.cookie.fail", "err", err)
			writeInternal(w)
			return
		}
		resp.RefreshToken = ""
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	tok := bearerToken(r)
	if tok == "" {
		writeUnauthorized(w, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.svc.Authenticate(tok)
	if err != nil {
		writeUnauthorized(w, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func isRefreshRejection(err error) bool {
	for _, target := range []error{
		session.ErrInvalidCredentialFormat,
		session.ErrSessionNotFound,
		session.ErrSessionExpired,
		session.ErrSecretMismatch,
		session.ErrRefreshReuseDetected,
		session.ErrPrincipalNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func (h *Handler) clientMeta(r *http.Request) session.ClientMeta {
	return session.ClientMeta{UserAgent: userAgent(r), IP: clientIP(r, h.cfg.TrustProxy)}
}

// userAgent returns the request's User-Agent as valid UTF-8 of at most
// maxUserAgentLen bytes, cut on a rune boundary.
func userAgent(r *http.Request) string {
	ua := strings.ToValidUTF8(strings.TrimSpace(r.UserAgent()), "")
	if len(ua) <= maxUserAgentLen {
		return ua
	}
	n := maxUserAgentLen
	for n > 0 && !utf8.RuneStart(ua[n]) {
		n--
	}
	return ua[:n]
}

func clientIP(r *http.Request, trustProxy bool) netip.Addr {
	if trustProxy {
		if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); first != "" {
			if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return ip.Unmap()
			}
		}
		if ip, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return ip.Unmap()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return netip.Addr{}
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return ip.Unmap()
}
