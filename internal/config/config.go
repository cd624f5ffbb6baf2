// Package config loads the gateway's layered YAML configuration
// (defaults -> file -> environment overrides) and watches the config file
// for changes, hot-applying salient-field-free edits and signaling a
// restart requirement otherwise.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentmesh/gateway/internal/ctxprune"
)

// Config is the gateway's full runtime configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Auth       AuthConfig       `yaml:"auth"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Dedupe     DedupeConfig     `yaml:"dedupe"`
	Pruning    PruningConfig    `yaml:"pruning"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Bindings   []BindingConfig  `yaml:"bindings"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Channels   ChannelsConfig   `yaml:"channels"`
}

// ChannelsConfig configures the optional inbound channel adapters. Each is
// only started if its token field is non-empty.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
}

type TelegramConfig struct {
	Token     string `yaml:"token"`
	AccountID string `yaml:"accountId"`
}

type DiscordConfig struct {
	Token     string `yaml:"token"`
	AccountID string `yaml:"accountId"`
}

type SlackConfig struct {
	BotToken  string `yaml:"botToken"`
	AppToken  string `yaml:"appToken"`
	AccountID string `yaml:"accountId"`
}

// ListenConfig configures the gateway's network surface.
type ListenConfig struct {
	WSAddr   string `yaml:"wsAddr"`
	HTTPAddr string `yaml:"httpAddr"`
}

// AuthConfig configures operator authentication.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwtSecret"`
	TokenExpiry time.Duration `yaml:"tokenExpiry"`
}

// SessionsConfig configures the session store root and write-lock hold.
type SessionsConfig struct {
	Root           string        `yaml:"root"`
	LockMaxHold    time.Duration `yaml:"lockMaxHold"`
	DefaultAgentID string        `yaml:"defaultAgentId"`
}

// DedupeConfig configures the idempotency cache.
type DedupeConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"maxSize"`
}

// PruningConfig configures context pruning.
type PruningConfig struct {
	Mode          ctxprune.Mode `yaml:"mode"`
	TTLMs         int64        `yaml:"ttlMs"`
	SoftTrimRatio float64      `yaml:"softTrimRatio"`
	PrunableTools []string     `yaml:"prunableTools"`
}

// HeartbeatConfig configures the per-channel watchdog.
type HeartbeatConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// BindingConfig is one routing rule, matching pkg/models.BindingRule.
type BindingConfig struct {
	AgentID   string `yaml:"agentId"`
	Channel   string `yaml:"channel"`
	AccountID string `yaml:"accountId,omitempty"`
	PeerKind  string `yaml:"peerKind,omitempty"`
	PeerID    string `yaml:"peerId,omitempty"`
	GuildID   string `yaml:"guildId,omitempty"`
	TeamID    string `yaml:"teamId,omitempty"`
}

// ProvidersConfig configures LLM backends.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
}

type AnthropicConfig struct {
	APIKeyEnv    string `yaml:"apiKeyEnv"`
	DefaultModel string `yaml:"defaultModel"`
}

type OpenAIConfig struct {
	APIKeyEnv    string `yaml:"apiKeyEnv"`
	DefaultModel string `yaml:"defaultModel"`
}

// Defaults returns the baseline configuration applied before the file and
// environment layers.
func Defaults() Config {
	return Config{
		Listen: ListenConfig{WSAddr: ":7100", HTTPAddr: ":7101"},
		Sessions: SessionsConfig{
			Root:           "./data/sessions",
			LockMaxHold:    5 * time.Second,
			DefaultAgentID: "main",
		},
		Dedupe: DedupeConfig{TTL: time.Hour, MaxSize: 10000},
		Pruning: PruningConfig{
			Mode:          ctxprune.ModeCacheTTL,
			TTLMs:         int64(5 * time.Minute / time.Millisecond),
			SoftTrimRatio: 0.3,
			PrunableTools: []string{"bash", "shell", "exec"},
		},
		Heartbeat: HeartbeatConfig{Timeout: 30 * time.Minute},
	}
}

// Load reads path over the defaults and applies AGENTMESH_-prefixed
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

const envPrefix = "AGENTMESH_"

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("WS_ADDR"); ok {
		cfg.Listen.WSAddr = v
	}
	if v, ok := lookupEnv("HTTP_ADDR"); ok {
		cfg.Listen.HTTPAddr = v
	}
	if v, ok := lookupEnv("JWT_SECRET"); ok {
		cfg.Auth.JWTSecret = v
	}
	if v, ok := lookupEnv("SESSIONS_ROOT"); ok {
		cfg.Sessions.Root = v
	}
	if v, ok := lookupEnv("DEDUPE_MAX_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dedupe.MaxSize = n
		}
	}
}

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
