package credential

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/forgehost/controlplane/internal/apperr"
)

const tokenIssuer = "forgehost-controlplane"

// Claims identifies the authenticated account carried by a bearer token.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
}

// TokenIssuer issues and validates opaque, self-signed bearer tokens using
// HMAC-SHA256. The control plane is the only verifier of its own tokens, so
// there is no key rotation or JWKS endpoint to manage.
type TokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

// NewTokenIssuer builds a TokenIssuer. secret must be at least 32 bytes so
// the HMAC key has enough entropy.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("bearer token secret must be at least 32 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{signingKey: []byte(secret), ttl: ttl}, nil
}

// Issue signs a bearer token for the given account.
func (ti *TokenIssuer) Issue(claims Claims) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: ti.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "creating token signer", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		Subject:   claims.UserID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(ti.ttl)),
	}

	token, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "signing token", err)
	}
	return token, nil
}

// Validate verifies the signature and expiry of raw and returns its claims.
// Every failure — bad signature, expired token, malformed structure —
// collapses to the same AuthFailed error so a caller cannot probe why a
// token was rejected.
func (ti *TokenIssuer) Validate(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, apperr.New(apperr.KindAuthFailed, "invalid token")
	}

	var registered jwt.Claims
	var custom Claims
	if err := tok.Claims(ti.signingKey, &registered, &custom); err != nil {
		return nil, apperr.New(apperr.KindAuthFailed, "invalid token")
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: tokenIssuer,
		Time:   time.Now(),
	}, 5*time.Second); err != nil {
		return nil, apperr.New(apperr.KindAuthFailed, "invalid token")
	}

	return &custom, nil
}
