// Package auth implements operator authentication: a static-secret JWT
// issuer/validator for interactive operators, and a separate opaque
// bearer-token device-pairing flow (see tokens.go) for long-lived node
// and operator device credentials.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
)

// Principal identifies the caller a validated credential resolves to.
type Principal struct {
	Subject string
	Role    string
	Scopes  []string
}

// JWTService signs and verifies operator session tokens.
type JWTService struct {
	secret []byte
	expiry time.Duration
}

// NewJWTService builds a JWT helper with the given HMAC secret and token
// expiry (zero disables expiry).
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), expiry: expiry}
}

// Claims carries the operator's role and scopes alongside the standard
// registered claims.
type Claims struct {
	Role   string   `json:"role,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for the given principal.
func (s *JWTService) Generate(p Principal) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(p.Subject) == "" {
		return "", errors.New("subject required")
	}

	claims := Claims{
		Role:   p.Role,
		Scopes: p.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  p.Subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning the embedded principal.
func (s *JWTService) Validate(token string) (Principal, error) {
	if s == nil || len(s.secret) == 0 {
		return Principal{}, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Subject: claims.Subject, Role: claims.Role, Scopes: claims.Scopes}, nil
}
