package authapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"fms/cmd/security/token"
)

const csrfTokenBytes = 32

// setRefreshCookies stores the refresh credential in an httpOnly cookie and
// pairs it with a readable CSRF cookie for double-submit checks.
func (h *Handler) setRefreshCookies(w http.ResponseWriter, credential string, exp time.Time) error {
	csrf, err := token.NewOpaque(csrfTokenBytes)
	if err != nil {
		return err
	}
	http.SetCookie(w, h.cookie(h.cfg.RefreshCookieName, credential, exp, true))
	http.SetCookie(w, h.cookie(h.cfg.CSRFCookieName, csrf, exp, false))
	return nil
}

func (h *Handler) clearRefreshCookies(w http.ResponseWriter) {
	if !h.cfg.RefreshCookieEnabled {
		return
	}
	for name, httpOnly := range map[string]bool{h.cfg.RefreshCookieName: true, h.cfg.CSRFCookieName: false} {
		c := h.cookie(name, "", time.Unix(0, 0).UTC(), httpOnly)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (h *Handler) cookie(name, value string, exp time.Time, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
}

func (h *Handler) refreshFromCookie(r *http.Request) (string, bool) {
	if !h.cfg.RefreshCookieEnabled {
		return "", false
	}
	c, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	return v, v != ""
}

func (h *Handler) csrfValid(r *http.Request) bool {
	c, err := r.Cookie(h.cfg.CSRFCookieName)
	if err != nil {
		return false
	}
	cv := strings.TrimSpace(c.Value)
	hv := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
	if cv == "" || len(cv) != len(hv) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cv), []byte(hv)) == 1
}
