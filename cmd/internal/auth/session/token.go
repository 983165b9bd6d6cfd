package session

import (
	"time"

	"fms/cmd/identity/ids"
)

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	Subject   string
	Scopes    []string
	TokenID   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasScope reports whether the token carries scope.
func (c AccessClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AccessTokenIssuer mints and verifies short-lived, self-contained access tokens.
// Issue has no side effects; its only failure modes are programming errors.
type AccessTokenIssuer interface {
	Issue(ownerID string, scopes []string, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
}

// NewAccessTokenIssuer builds the issuer selected by cfg.AccessTokenFormat.
func NewAccessTokenIssuer(cfg Config) (AccessTokenIssuer, error) {
	switch cfg.AccessTokenFormat {
	case FormatJWT, "":
		return NewJWTIssuer(cfg)
	case FormatPaseto:
		return NewPasetoV4PublicIssuer(cfg)
	default:
		return nil, configErr("unknown access token format %q", cfg.AccessTokenFormat)
	}
}

func newTokenID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return ""
	}
	return id
}
