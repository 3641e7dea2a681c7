// Package bearer validates OAuth bearer tokens for the VPN client API.
// The portal acts as its own token issuer; validation is a local HMAC
// check, no introspection round trip.
package bearer

import (
	"context"
	"strings"
	"time"

	"github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/golang-jwt/jwt/v5"
)

// Token is the validated bearer token content the API surface acts on.
type Token struct {
	UserID    string
	ClientID  string
	Scopes    []string
	AuthKey   string
	ExpiresAt time.Time
}

// HasScope reports whether the token carries the given scope.
func (t *Token) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Validator validates a raw bearer token.
type Validator interface {
	ValidateToken(ctx context.Context, raw string) (*Token, error)
}

type claims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	AuthKey  string `json:"auth_key"`
	jwt.RegisteredClaims
}

// JWTValidator validates locally issued HMAC-signed tokens.
type JWTValidator struct {
	key    []byte
	issuer string
}

// NewJWTValidator creates a validator for the given signing key and issuer.
func NewJWTValidator(signingKey, issuer string) *JWTValidator {
	return &JWTValidator{
		key:    []byte(signingKey),
		issuer: issuer,
	}
}

// ValidateToken parses and verifies the token. Expired and malformed
// tokens are reported with distinct codes but identical generic messages.
func (v *JWTValidator) ValidateToken(_ context.Context, raw string) (*Token, error) {
	var parsed claims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.key, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		code := errors.ErrCodeTokenInvalid
		if strings.Contains(err.Error(), jwt.ErrTokenExpired.Error()) {
			code = errors.ErrCodeTokenExpired
		}
		return nil, errors.NewAuthError(code, "invalid token", err)
	}

	return &Token{
		UserID:    parsed.Subject,
		ClientID:  parsed.ClientID,
		Scopes:    strings.Fields(parsed.Scope),
		AuthKey:   parsed.AuthKey,
		ExpiresAt: parsed.ExpiresAt.Time,
	}, nil
}

// IssueToken mints a token for the given user/client/scope bound to an
// authorization key. Used by the token endpoint and by tests.
func (v *JWTValidator) IssueToken(userID, clientID, scope, authKey string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ClientID: clientID,
		Scope:    scope,
		AuthKey:  authKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(v.key)
	if err != nil {
		return "", errors.NewBaseError("auth", errors.ErrCodeInternal, "failed to sign token", err, nil)
	}
	return signed, nil
}
