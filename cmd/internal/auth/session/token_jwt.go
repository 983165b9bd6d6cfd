package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minJWTSecretBytes = 32

// jwtClaims carries scopes space-delimited in "scope", as OAuth 2.0 does.
type jwtClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

type jwtIssuer struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	key       []byte
}

// NewJWTIssuer builds an HS256 AccessTokenIssuer keyed by cfg.JWTSecret.
func NewJWTIssuer(cfg Config) (AccessTokenIssuer, error) {
	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return nil, configErr("FMS_JWT_SECRET must be at least %d bytes", minJWTSecretBytes)
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, configErr("FMS_ACCESS_TTL must be positive")
	}
	return &jwtIssuer{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		key:       []byte(cfg.JWTSecret),
	}, nil
}

func (m *jwtIssuer) Issue(ownerID string, scopes []string, now time.Time) (string, time.Time, error) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        newTokenID(now),
			Subject:   ownerID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Scope: strings.Join(scopes, " "),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (m *jwtIssuer) Verify(token string, now time.Time) (AccessClaims, error) {
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var c jwtClaims
	if _, err := p.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return m.key, nil }); err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if c.Subject == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	out := AccessClaims{
		Subject: c.Subject,
		Scopes:  strings.Fields(c.Scope),
		TokenID: c.ID,
		Issuer:  c.Issuer,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
