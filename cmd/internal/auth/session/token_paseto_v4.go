package session

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoV4PublicIssuer struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicIssuer builds an AccessTokenIssuer based on PASETO v4.public.
//
// It uses an Ed25519 keypair and enforces issuer and expiration rules.
func NewPasetoV4PublicIssuer(cfg Config) (AccessTokenIssuer, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, configErr("FMS_PASETO_V4_SECRET_KEY_HEX is not a valid v4 secret key")
	}

	return &pasetoV4PublicIssuer{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// PublicKeyHex exposes the verification key for other services.
func (m *pasetoV4PublicIssuer) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicIssuer) Issue(ownerID string, scopes []string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetSubject(ownerID)
	tok.SetJti(newTokenID(now))
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString("scope", strings.Join(scopes, " "))

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicIssuer) Verify(token string, now time.Time) (AccessClaims, error) {
	// Fresh parser per call so rules do not accumulate. Time rules are
	// checked below with the clock skew applied in both directions.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	exp, err := parsed.GetExpiration()
	if err != nil || !now.Before(exp.Add(m.clockSkew)) {
		return AccessClaims{}, ErrInvalidToken
	}
	if nbf, err := parsed.GetNotBefore(); err == nil && now.Add(m.clockSkew).Before(nbf) {
		return AccessClaims{}, ErrInvalidToken
	}
	iat, err := parsed.GetIssuedAt()
	if err == nil && now.Add(m.clockSkew).Before(iat) {
		return AccessClaims{}, ErrInvalidToken
	}
	iss, _ := parsed.GetIssuer()
	jti, _ := parsed.GetJti()
	scope, _ := parsed.GetString("scope")

	return AccessClaims{
		Subject:   sub,
		Scopes:    strings.Fields(scope),
		TokenID:   jti,
		Issuer:    iss,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}
