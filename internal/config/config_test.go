package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Defaults()
	if cfg.Listen.WSAddr != want.Listen.WSAddr || cfg.Sessions.DefaultAgentID != want.Sessions.DefaultAgentID {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	yamlBody := "listen:\n  wsAddr: \":9100\"\nsessions:\n  defaultAgentId: \"support\"\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen.WSAddr != ":9100" {
		t.Fatalf("expected file override, got %q", cfg.Listen.WSAddr)
	}
	if cfg.Sessions.DefaultAgentID != "support" {
		t.Fatalf("expected file override, got %q", cfg.Sessions.DefaultAgentID)
	}
	// Untouched defaults must survive the merge.
	if cfg.Dedupe.MaxSize != Defaults().Dedupe.MaxSize {
		t.Fatalf("expected untouched default preserved, got %d", cfg.Dedupe.MaxSize)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("GATEWAY_TEST_TOKEN", "secret-value")
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	yamlBody := "channels:\n  telegram:\n    token: \"${GATEWAY_TEST_TOKEN}\"\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Channels.Telegram.Token != "secret-value" {
		t.Fatalf("expected env var expanded, got %q", cfg.Channels.Telegram.Token)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("AGENTMESH_WS_ADDR", ":8100")
	t.Setenv("AGENTMESH_DEDUPE_MAX_SIZE", "42")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen.WSAddr != ":8100" {
		t.Fatalf("expected env override, got %q", cfg.Listen.WSAddr)
	}
	if cfg.Dedupe.MaxSize != 42 {
		t.Fatalf("expected env override, got %d", cfg.Dedupe.MaxSize)
	}
}

func TestApplyEnvOverridesIgnoresBlank(t *testing.T) {
	t.Setenv("AGENTMESH_WS_ADDR", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen.WSAddr != Defaults().Listen.WSAddr {
		t.Fatalf("expected blank env var ignored, got %q", cfg.Listen.WSAddr)
	}
}
