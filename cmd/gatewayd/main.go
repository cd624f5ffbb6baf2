// Command gatewayd runs the agent gateway: a WebSocket control plane and
// an HTTP façade multiplexing many concurrent agent sessions across chat
// channels, terminals, and direct HTTP clients.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agentmesh/gateway/internal/agent"
	"github.com/agentmesh/gateway/internal/auth"
	"github.com/agentmesh/gateway/internal/cache"
	"github.com/agentmesh/gateway/internal/channels"
	"github.com/agentmesh/gateway/internal/channels/discord"
	"github.com/agentmesh/gateway/internal/channels/slack"
	"github.com/agentmesh/gateway/internal/channels/telegram"
	"github.com/agentmesh/gateway/internal/config"
	"github.com/agentmesh/gateway/internal/gateway"
	"github.com/agentmesh/gateway/internal/pairing"
	"github.com/agentmesh/gateway/internal/providers"
	"github.com/agentmesh/gateway/internal/router"
	"github.com/agentmesh/gateway/internal/sessions"
	"github.com/agentmesh/gateway/internal/tools"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gatewayd",
		Short:        "agentmesh gateway: multiplexed agent sessions over WebSocket and HTTP",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildDoctorCmd(), buildTokenCmd(), buildPairCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway's WS control plane and HTTP façade",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("configuration loaded", "wsAddr", cfg.Listen.WSAddr, "httpAddr", cfg.Listen.HTTPAddr)

	deps, err := buildDeps(cfg)
	if err != nil {
		return fmt.Errorf("build gateway dependencies: %w", err)
	}
	srv := gateway.New(*deps)

	watcher, err := config.NewWatcher(configPath, slog.Default())
	if err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
	} else {
		defer watcher.Close()
		go func() {
			for result := range watcher.Changes() {
				if result.RestartRequired {
					slog.Warn("config change requires restart, not hot-applied", "fields", result.ChangedTopLevel)
					continue
				}
				srv.ApplyConfig(result.Config)
				slog.Info("config hot-reloaded", "fields", result.ChangedTopLevel)
			}
		}()
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	slog.Info("shutdown signal received, stopping gateway")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
	slog.Info("gateway stopped")
	return nil
}

// buildDeps wires every collaborator package into gateway.Deps, following
// the teacher's runServe: load config, construct stores and registries,
// register the built-in tool set, resolve LLM providers from environment
// API keys.
func buildDeps(cfg config.Config) (*gateway.Deps, error) {
	authSvc := auth.NewService(auth.Config{JWTSecret: cfg.Auth.JWTSecret, TokenExpiry: cfg.Auth.TokenExpiry})

	tokenPath := filepath.Join(cfg.Sessions.Root, "tokens.json")
	tokenMgr, err := auth.NewTokenManager(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	locker := sessions.NewLocker(cfg.Sessions.LockMaxHold)
	store := sessions.NewStore(cfg.Sessions.Root, locker)

	rt := router.New(router.Config{
		Bindings:       gateway.BindingRules(cfg),
		DefaultAgentID: cfg.Sessions.DefaultAgentID,
	})

	dedupe := cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: cfg.Dedupe.TTL, MaxSize: cfg.Dedupe.MaxSize})

	registry, err := buildProviderRegistry(cfg.Providers)
	if err != nil {
		return nil, err
	}

	toolRegistry := tools.NewRegistry()
	if err := toolRegistry.Register(tools.Definition{
		Name:        "shell",
		Description: "Run a shell command in the workspace",
		Schema:      tools.ShellSchema,
		Tool:        tools.NewShellTool(cfg.Sessions.Root),
	}); err != nil {
		return nil, fmt.Errorf("register shell tool: %w", err)
	}

	hooks := agent.NewHookRegistry(slog.Default())
	approval := agent.NewApprovalGate(agent.DefaultApprovalPolicy())
	executor := agent.NewExecutor(toolRegistry, hooks, approval, agent.DefaultExecutorConfig())

	pairingStore := pairing.NewStore(filepath.Join(cfg.Sessions.Root, "pairing"))
	overrideStore := sessions.NewOverrideStore(cfg.Sessions.Root)
	channelRegistry := buildChannelRegistry(cfg.Channels)

	return &gateway.Deps{
		Config:           cfg,
		Auth:             authSvc,
		Tokens:           tokenMgr,
		Sessions:         store,
		Locker:           locker,
		Router:           rt,
		Dedupe:           dedupe,
		Providers:        registry,
		Hooks:            hooks,
		Approval:         approval,
		Executor:         executor,
		ToolRegistry:     toolRegistry,
		Pairing:          pairingStore,
		Overrides:        overrideStore,
		Channels:         channelRegistry,
		HeartbeatTimeout: cfg.Heartbeat.Timeout,
		Logger:           slog.Default(),
	}, nil
}

// buildChannelRegistry registers an adapter for every channel that has a
// token configured; channels left blank in config simply aren't started.
func buildChannelRegistry(cfg config.ChannelsConfig) *channels.Registry {
	reg := channels.NewRegistry()
	if cfg.Telegram.Token != "" {
		reg.Register(telegram.New(telegram.Config{
			Token:     cfg.Telegram.Token,
			AccountID: cfg.Telegram.AccountID,
			Logger:    slog.Default(),
		}))
	}
	if cfg.Discord.Token != "" {
		reg.Register(discord.New(discord.Config{
			Token:     cfg.Discord.Token,
			AccountID: cfg.Discord.AccountID,
			Logger:    slog.Default(),
		}))
	}
	if cfg.Slack.BotToken != "" && cfg.Slack.AppToken != "" {
		reg.Register(slack.New(slack.Config{
			BotToken:  cfg.Slack.BotToken,
			AppToken:  cfg.Slack.AppToken,
			AccountID: cfg.Slack.AccountID,
			Logger:    slog.Default(),
		}))
	}
	return reg
}

func buildProviderRegistry(cfg config.ProvidersConfig) (*providers.Registry, error) {
	var registered []providers.Provider
	if key := lookupAPIKey(cfg.Anthropic.APIKeyEnv, "ANTHROPIC_API_KEY"); key != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       key,
			DefaultModel: cfg.Anthropic.DefaultModel,
			Retry:        providers.DefaultRetryPolicy(),
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		registered = append(registered, p)
	}
	if key := lookupAPIKey(cfg.OpenAI.APIKeyEnv, "OPENAI_API_KEY"); key != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       key,
			DefaultModel: cfg.OpenAI.DefaultModel,
			Retry:        providers.DefaultRetryPolicy(),
		})
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		registered = append(registered, p)
	}
	return providers.NewRegistry(registered...), nil
}

func lookupAPIKey(envVar, fallback string) string {
	if envVar == "" {
		envVar = fallback
	}
	return os.Getenv(envVar)
}

func buildDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configured environment for common misconfigurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Gateway doctor")
			fmt.Fprintln(out, "==============")
			check(out, "WS listen address set", cfg.Listen.WSAddr != "")
			check(out, "HTTP listen address set", cfg.Listen.HTTPAddr != "")
			check(out, "sessions root set", cfg.Sessions.Root != "")
			check(out, "an LLM provider API key is available",
				lookupAPIKey(cfg.Providers.Anthropic.APIKeyEnv, "ANTHROPIC_API_KEY") != "" ||
					lookupAPIKey(cfg.Providers.OpenAI.APIKeyEnv, "OPENAI_API_KEY") != "")
			if cfg.Auth.JWTSecret == "" {
				fmt.Fprintln(out, "  [warn] no JWT secret configured: operator connections will be unauthenticated")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "Path to YAML configuration file")
	return cmd
}

func check(out interface{ Write([]byte) (int, error) }, label string, ok bool) {
	status := "ok"
	if !ok {
		status = "MISSING"
	}
	fmt.Fprintf(out, "  [%s] %s\n", status, label)
}

func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and revoke device bearer tokens",
	}
	cmd.AddCommand(buildTokenIssueCmd(), buildTokenRevokeCmd())
	return cmd
}

func buildTokenIssueCmd() *cobra.Command {
	var (
		configPath string
		deviceID   string
		role       string
		scopes     []string
		expiresIn  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a device bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			mgr, err := auth.NewTokenManager(filepath.Join(cfg.Sessions.Root, "tokens.json"))
			if err != nil {
				return fmt.Errorf("open token store: %w", err)
			}
			tok, err := mgr.CreateToken(deviceID, auth.DeviceRole(role), scopes, expiresIn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token issued for %s (%s): %s\n", deviceID, role, tok.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&deviceID, "device", "", "Device ID this token authenticates")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleNode), "Device role (operator, node)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes granted to this token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Expiry duration (0 = never expires)")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

func buildPairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Approve a device's human-readable pairing code",
	}
	cmd.AddCommand(buildPairApproveCmd())
	return cmd
}

func buildPairApproveCmd() *cobra.Command {
	var (
		configPath string
		channel    string
		role       string
	)
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Resolve a pending pairing code and mint a device token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store := pairing.NewStore(filepath.Join(cfg.Sessions.Root, "pairing"))
			pending, err := store.ListRequests(channel)
			if err != nil {
				return fmt.Errorf("list pending requests: %w", err)
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending pairing requests for that channel.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Pending pairing requests:")
			for _, r := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "  device=%s code=%s\n", r.DeviceID, r.Code)
			}

			reader := bufio.NewReader(cmd.InOrStdin())
			code := promptCode(reader, "Enter code to approve")
			if code == "" {
				return fmt.Errorf("no code entered")
			}

			req, err := store.ResolveCode(channel, code)
			if err != nil {
				return fmt.Errorf("resolve code: %w", err)
			}
			tokenMgr, err := auth.NewTokenManager(filepath.Join(cfg.Sessions.Root, "tokens.json"))
			if err != nil {
				return fmt.Errorf("open token store: %w", err)
			}
			deviceRole := auth.DeviceRole(role)
			if deviceRole == "" {
				deviceRole = auth.RoleNode
			}
			tok, err := tokenMgr.CreateToken(req.DeviceID, deviceRole, nil, 0)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paired %s: %s\n", req.DeviceID, tok.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&channel, "channel", "", "Channel the pairing code was requested on")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleNode), "Device role to grant (operator, node)")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

// promptCode reads a pairing code from an interactive terminal with input
// echo disabled, falling back to a plain line read when stdin isn't a TTY
// (scripted invocation, CI).
func promptCode(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		text, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(text))
		}
	}
	text, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func buildTokenRevokeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a device bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			mgr, err := auth.NewTokenManager(filepath.Join(cfg.Sessions.Root, "tokens.json"))
			if err != nil {
				return fmt.Errorf("open token store: %w", err)
			}
			if err := mgr.RevokeToken(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token revoked.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "Path to YAML configuration file")
	return cmd
}
