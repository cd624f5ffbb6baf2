package auth

import (
	"crypto/subtle"
	"strings"
	"sync"
	"time"
)

// Config configures the operator authentication service.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
	StaticKeys  []StaticKeyConfig
}

// StaticKeyConfig declares a fixed shared-secret credential, checked with
// constant-time comparison (for CLI and CI callers that can't do an
// interactive JWT exchange).
type StaticKeyConfig struct {
	Key     string
	Subject string
	Role    string
	Scopes  []string
}

// Service validates operator JWTs and static keys.
type Service struct {
	mu         sync.RWMutex
	jwt        *JWTService
	staticKeys map[string]Principal
}

// NewService constructs an auth service from static configuration.
func NewService(cfg Config) *Service {
	s := &Service{staticKeys: buildStaticKeyMap(cfg.StaticKeys)}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		s.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	return s
}

// Enabled reports whether any auth check would succeed.
func (s *Service) Enabled() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jwt != nil || len(s.staticKeys) > 0
}

// GenerateJWT issues a signed token for the given principal.
func (s *Service) GenerateJWT(p Principal) (string, error) {
	if s == nil {
		return "", ErrAuthDisabled
	}
	s.mu.RLock()
	jwtSvc := s.jwt
	s.mu.RUnlock()
	if jwtSvc == nil {
		return "", ErrAuthDisabled
	}
	return jwtSvc.Generate(p)
}

// ValidateJWT validates a JWT and returns the principal it carries.
func (s *Service) ValidateJWT(token string) (Principal, error) {
	if s == nil {
		return Principal{}, ErrAuthDisabled
	}
	s.mu.RLock()
	jwtSvc := s.jwt
	s.mu.RUnlock()
	if jwtSvc == nil {
		return Principal{}, ErrAuthDisabled
	}
	return jwtSvc.Validate(token)
}

// ValidateStaticKey checks key against the configured static keys using
// constant-time comparison across all candidates, to avoid leaking which
// prefix matched via timing.
func (s *Service) ValidateStaticKey(key string) (Principal, error) {
	if s == nil {
		return Principal{}, ErrAuthDisabled
	}
	s.mu.RLock()
	keys := s.staticKeys
	s.mu.RUnlock()
	if len(keys) == 0 {
		return Principal{}, ErrAuthDisabled
	}

	input := strings.TrimSpace(key)
	var matched Principal
	var found bool
	for stored, p := range keys {
		if subtle.ConstantTimeCompare([]byte(input), []byte(stored)) == 1 {
			matched = p
			found = true
		}
	}
	if !found {
		return Principal{}, ErrInvalidToken
	}
	return matched, nil
}

func buildStaticKeyMap(keys []StaticKeyConfig) map[string]Principal {
	out := make(map[string]Principal, len(keys))
	for _, entry := range keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		out[key] = Principal{Subject: entry.Subject, Role: entry.Role, Scopes: entry.Scopes}
	}
	return out
}
