// Package gateway wires every other package into the gateway's two network
// surfaces (a WebSocket control plane and an HTTP façade) and owns the
// per-turn pipeline that ties dedupe, routing, locking, pruning, the model
// provider and the event subscriber together.
//
// Grounded on the teacher's internal/gateway Server: a single struct holding
// every collaborator as a field, HTTP and WS surfaces started from an
// Addr-driven config, a presence registry broadcast on connect/disconnect.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/agentmesh/gateway/internal/agent"
	"github.com/agentmesh/gateway/internal/auth"
	"github.com/agentmesh/gateway/internal/cache"
	"github.com/agentmesh/gateway/internal/channels"
	"github.com/agentmesh/gateway/internal/config"
	"github.com/agentmesh/gateway/internal/ctxprune"
	"github.com/agentmesh/gateway/internal/heartbeat"
	"github.com/agentmesh/gateway/internal/metrics"
	"github.com/agentmesh/gateway/internal/pairing"
	"github.com/agentmesh/gateway/internal/providers"
	"github.com/agentmesh/gateway/internal/router"
	"github.com/agentmesh/gateway/internal/sessions"
	"github.com/agentmesh/gateway/internal/tools"
	"github.com/agentmesh/gateway/pkg/models"
)

// Deps bundles every collaborator the Server dispatches into. All fields are
// required except Logger and Metrics, which default when nil.
type Deps struct {
	Config           config.Config
	Auth             *auth.Service
	Tokens           *auth.TokenManager
	Sessions         *sessions.Store
	Locker           *sessions.Locker
	Router           *router.Router
	Dedupe           *cache.DedupeCache
	Providers        *providers.Registry
	Hooks            *agent.HookRegistry
	Approval         *agent.ApprovalGate
	Executor         *agent.Executor
	ToolRegistry     *tools.Registry
	Pairing          *pairing.Store
	Overrides        *sessions.OverrideStore
	Channels         *channels.Registry
	HeartbeatTimeout time.Duration
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
}

// Server owns the gateway's network surfaces and dispatch table.
type Server struct {
	mu              sync.RWMutex
	cfg             config.Config
	auth            *auth.Service
	tokens          *auth.TokenManager
	sessions        *sessions.Store
	locker          *sessions.Locker
	router          *router.Router
	dedupe          *cache.DedupeCache
	providers       *providers.Registry
	hooks           *agent.HookRegistry
	approval        *agent.ApprovalGate
	executor        *agent.Executor
	toolRegistry    *tools.Registry
	pairing         *pairing.Store
	overrides       *sessions.OverrideStore
	channelRegistry *channels.Registry
	heartbeat       *heartbeat.Monitor
	metrics         *metrics.Metrics
	logger          *slog.Logger
	sweeper         *cron.Cron

	presence *PresenceRegistry
	pruning  ctxprune.Settings

	connMu sync.RWMutex
	conns  map[string]*conn

	nodeInvokeMu      sync.Mutex
	nodeInvokePending map[string]pendingNodeInvoke

	turnMu     sync.Mutex
	turnCancel map[string]context.CancelFunc

	startTime time.Time

	httpServer   *http.Server
	httpListener net.Listener
	wsListener   net.Listener
	wsServer     *http.Server
}

// New constructs a Server from Deps. Deps.Logger and Deps.Metrics default to
// slog.Default() and a fresh metrics.New() respectively when nil.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		cfg:             deps.Config,
		auth:            deps.Auth,
		tokens:          deps.Tokens,
		sessions:        deps.Sessions,
		locker:          deps.Locker,
		router:          deps.Router,
		dedupe:          deps.Dedupe,
		providers:       deps.Providers,
		hooks:           deps.Hooks,
		approval:        deps.Approval,
		executor:        deps.Executor,
		toolRegistry:    deps.ToolRegistry,
		pairing:         deps.Pairing,
		overrides:       deps.Overrides,
		channelRegistry: deps.Channels,
		metrics:         m,
		logger:          logger,
		presence:        NewPresenceRegistry(),
		conns:           make(map[string]*conn),
		turnCancel:      make(map[string]context.CancelFunc),
		pruning: ctxprune.Settings{
			Mode:              deps.Config.Pruning.Mode,
			TTLMs:             deps.Config.Pruning.TTLMs,
			KeepBootstrapSafe: true,
			SoftTrimRatio:     deps.Config.Pruning.SoftTrimRatio,
			PrunableTools:     deps.Config.Pruning.PrunableTools,
		},
		startTime: time.Now(),
	}
	s.heartbeat = heartbeat.NewMonitor(deps.HeartbeatTimeout, s.onTurnStalled)

	s.sweeper = cron.New()
	s.sweeper.AddFunc("@every 5m", s.runSweep)
	return s
}

// runSweep is the periodic cleanup job: expire stale dedupe entries, per
// spec.md §4.3's "invoked opportunistically" cleanup, run here on a fixed
// cron schedule instead since the gateway has no per-request cleanup hook
// of its own. Pairing codes expire lazily on read (see pairing.Store), so
// they need no separate sweep.
func (s *Server) runSweep() {
	if s.dedupe == nil {
		return
	}
	n := s.dedupe.Cleanup()
	if n > 0 {
		s.logger.Debug("dedupe sweep evicted expired entries", "count", n)
	}
}

// ApplyConfig hot-swaps the server's config snapshot. Callers MUST only
// invoke this with a config.ReloadResult that did not require a restart;
// turns already in flight keep running with their original snapshot since
// they captured cfg/pruning settings at dispatch time.
func (s *Server) ApplyConfig(cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.pruning = ctxprune.Settings{
		Mode:              cfg.Pruning.Mode,
		TTLMs:             cfg.Pruning.TTLMs,
		KeepBootstrapSafe: true,
		SoftTrimRatio:     cfg.Pruning.SoftTrimRatio,
		PrunableTools:     cfg.Pruning.PrunableTools,
	}
	s.router = router.New(router.Config{
		Bindings:       BindingRules(cfg),
		DefaultAgentID: cfg.Sessions.DefaultAgentID,
	})
}

func (s *Server) snapshot() (config.Config, ctxprune.Settings, *router.Router) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.pruning, s.router
}

// BindingRules adapts the flat config.BindingConfig rows into the nested
// models.BindingRule shape the router matches against.
func BindingRules(cfg config.Config) []models.BindingRule {
	out := make([]models.BindingRule, 0, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		rule := models.BindingRule{
			AgentID: b.AgentID,
			Match: models.BindingMatch{
				Channel:   b.Channel,
				AccountID: b.AccountID,
				GuildID:   b.GuildID,
				TeamID:    b.TeamID,
			},
		}
		if b.PeerKind != "" || b.PeerID != "" {
			rule.Match.Peer = &models.Peer{Kind: models.PeerKind(b.PeerKind), ID: b.PeerID}
		}
		out = append(out, rule)
	}
	return out
}

// Start brings up the WS control plane and, if configured, the HTTP façade.
// It returns once both listeners are bound; serving happens in background
// goroutines.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Listen.WSAddr != "" {
		if err := s.startWS(ctx); err != nil {
			return fmt.Errorf("start ws: %w", err)
		}
	}
	if s.cfg.Listen.HTTPAddr != "" {
		if err := s.startHTTP(ctx); err != nil {
			return fmt.Errorf("start http: %w", err)
		}
	}
	if err := s.startChannels(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	s.sweeper.Start()
	return nil
}

// Stop gracefully shuts down both surfaces.
func (s *Server) Stop(ctx context.Context) {
	if s.sweeper != nil {
		<-s.sweeper.Stop().Done()
	}
	s.stopChannels(ctx)
	if s.wsServer != nil {
		_ = s.wsServer.Shutdown(ctx)
	}
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}
}

func (s *Server) startWS(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.newWSHandler())

	listener, err := net.Listen("tcp", s.cfg.Listen.WSAddr)
	if err != nil {
		return err
	}
	s.wsListener = listener
	s.wsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.wsServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ws server error", "error", err)
		}
	}()
	s.logger.Info("ws control plane listening", "addr", s.cfg.Listen.WSAddr)
	return nil
}

func (s *Server) startHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", s.handleHealthLive)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /tools/invoke", s.handleToolsInvoke)

	listener, err := net.Listen("tcp", s.cfg.Listen.HTTPAddr)
	if err != nil {
		return err
	}
	s.httpListener = listener
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("http façade listening", "addr", s.cfg.Listen.HTTPAddr)
	return nil
}

// defaultModelString picks the "provider/model" string used when a session
// carries no explicit model override: Anthropic's configured default model
// if set, otherwise OpenAI's.
func (s *Server) defaultModelString() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m := s.cfg.Providers.Anthropic.DefaultModel; m != "" {
		return "anthropic/" + m
	}
	if m := s.cfg.Providers.OpenAI.DefaultModel; m != "" {
		return "openai/" + m
	}
	return ""
}

func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// armWatchdog starts the per-session heartbeat for a turn in flight and
// registers cancel as the action taken if the turn stalls past the
// configured timeout, per spec.md §4.11.
func (s *Server) armWatchdog(sessionKey string, cancel context.CancelFunc) {
	s.turnMu.Lock()
	s.turnCancel[sessionKey] = cancel
	s.turnMu.Unlock()
	s.heartbeat.Start(sessionKey)
}

// disarmWatchdog stops the watchdog and drops the cancel registration once
// a turn completes, successfully or not.
func (s *Server) disarmWatchdog(sessionKey string) {
	s.heartbeat.Stop(sessionKey)
	s.turnMu.Lock()
	delete(s.turnCancel, sessionKey)
	s.turnMu.Unlock()
}

// onTurnStalled is the heartbeat callback: it cancels the stalled turn's
// context so the provider call and subscriber unwind instead of leaking the
// session's write lock indefinitely. The turn then fails with whatever error
// the provider stream reports, wrapped as a ProviderError.
func (s *Server) onTurnStalled(sessionKey string) {
	s.turnMu.Lock()
	cancel, ok := s.turnCancel[sessionKey]
	s.turnMu.Unlock()
	if ok {
		s.logger.Warn("turn heartbeat expired, cancelling", "sessionKey", sessionKey)
		cancel()
	}
}
