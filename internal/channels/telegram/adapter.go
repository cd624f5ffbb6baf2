// Package telegram adapts the go-telegram/bot long-polling client into a
// channels.Adapter, framing inbound text updates for the router.
package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/agentmesh/gateway/internal/channels"
	"github.com/agentmesh/gateway/pkg/models"
)

// Config configures the Telegram adapter.
type Config struct {
	Token     string
	AccountID string
	Logger    *slog.Logger
}

// Adapter frames Telegram text updates as channels.Inbound messages.
type Adapter struct {
	cfg    Config
	bot    *tgbot.Bot
	out    chan channels.Inbound
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
}

// New builds a Telegram adapter. The bot client itself is constructed
// lazily in Start so a misconfigured token surfaces there, not at
// registration time.
func New(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{cfg: cfg, out: make(chan channels.Inbound, 64), logger: logger}
}

func (a *Adapter) Type() string { return "telegram" }

func (a *Adapter) Inbound() <-chan channels.Inbound { return a.out }

func (a *Adapter) Start(ctx context.Context) error {
	opts := []tgbot.Option{
		tgbot.WithDefaultHandler(a.handleUpdate),
	}
	b, err := tgbot.New(a.cfg.Token, opts...)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.bot = b
	a.cancel = cancel
	a.mu.Unlock()

	go b.Start(runCtx)
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, _ *tgbot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := update.Message

	peer := models.Peer{Kind: models.PeerDM, ID: strconv.FormatInt(msg.Chat.ID, 10)}
	if msg.Chat.Type != "private" {
		peer.Kind = models.PeerGroup
	}

	inbound := channels.Inbound{
		Channel:   a.Type(),
		AccountID: a.cfg.AccountID,
		Peer:      peer,
		Message: models.Message{
			Role: models.RoleUser,
			Text: msg.Text,
		},
	}

	select {
	case a.out <- inbound:
	case <-ctx.Done():
	}
}
