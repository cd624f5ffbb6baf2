package auth

import "testing"

func TestServiceEnabledRequiresConfiguredCredential(t *testing.T) {
	if (&Service{}).Enabled() {
		t.Fatal("expected a bare Service to be disabled")
	}

	withJWT := NewService(Config{JWTSecret: "secret"})
	if !withJWT.Enabled() {
		t.Fatal("expected JWT secret to enable the service")
	}

	withKey := NewService(Config{StaticKeys: []StaticKeyConfig{{Key: "k1", Subject: "node1"}}})
	if !withKey.Enabled() {
		t.Fatal("expected a static key to enable the service")
	}
}

func TestServiceNilReceiverDisabled(t *testing.T) {
	var s *Service
	if s.Enabled() {
		t.Fatal("expected nil *Service to report disabled")
	}
	if _, err := s.GenerateJWT(Principal{Subject: "x"}); err != ErrAuthDisabled {
		t.Fatalf("expected ErrAuthDisabled, got %v", err)
	}
	if _, err := s.ValidateJWT("tok"); err != ErrAuthDisabled {
		t.Fatalf("expected ErrAuthDisabled, got %v", err)
	}
	if _, err := s.ValidateStaticKey("k"); err != ErrAuthDisabled {
		t.Fatalf("expected ErrAuthDisabled, got %v", err)
	}
}

func TestServiceGenerateAndValidateJWT(t *testing.T) {
	s := NewService(Config{JWTSecret: "secret"})
	token, err := s.GenerateJWT(Principal{Subject: "operator1", Role: "operator"})
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	p, err := s.ValidateJWT(token)
	if err != nil {
		t.Fatalf("ValidateJWT failed: %v", err)
	}
	if p.Subject != "operator1" {
		t.Fatalf("unexpected subject: %q", p.Subject)
	}
}

func TestValidateStaticKeyMatchesAndRejects(t *testing.T) {
	s := NewService(Config{StaticKeys: []StaticKeyConfig{
		{Key: "valid-key", Subject: "node1", Role: "node"},
	}})

	p, err := s.ValidateStaticKey("valid-key")
	if err != nil {
		t.Fatalf("ValidateStaticKey failed: %v", err)
	}
	if p.Subject != "node1" || p.Role != "node" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	if _, err := s.ValidateStaticKey("wrong-key"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateStaticKeyTrimsWhitespace(t *testing.T) {
	s := NewService(Config{StaticKeys: []StaticKeyConfig{{Key: "valid-key", Subject: "node1"}}})
	if _, err := s.ValidateStaticKey("  valid-key  "); err != nil {
		t.Fatalf("expected whitespace-trimmed key to match, got %v", err)
	}
}

func TestValidateStaticKeyNoKeysConfigured(t *testing.T) {
	s := NewService(Config{})
	if _, err := s.ValidateStaticKey("anything"); err != ErrAuthDisabled {
		t.Fatalf("expected ErrAuthDisabled, got %v", err)
	}
}

func TestBuildStaticKeyMapSkipsBlankKeys(t *testing.T) {
	s := NewService(Config{StaticKeys: []StaticKeyConfig{
		{Key: "   ", Subject: "ignored"},
		{Key: "real-key", Subject: "node1"},
	}})
	if _, err := s.ValidateStaticKey("real-key"); err != nil {
		t.Fatalf("expected the real key to validate, got %v", err)
	}
	if _, err := s.ValidateStaticKey(""); err != ErrInvalidToken {
		t.Fatalf("expected a blank candidate key to never match, got %v", err)
	}
}
