// Package discord adapts bwmarrin/discordgo into a channels.Adapter,
// framing inbound guild/DM messages for the router.
package discord

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/agentmesh/gateway/internal/channels"
	"github.com/agentmesh/gateway/pkg/models"
)

// Config configures the Discord adapter.
type Config struct {
	Token     string
	AccountID string
	Logger    *slog.Logger
}

// Adapter frames Discord message-create events as channels.Inbound.
type Adapter struct {
	cfg     Config
	session *discordgo.Session
	out     chan channels.Inbound
	logger  *slog.Logger
}

// New builds a Discord adapter.
func New(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{cfg: cfg, out: make(chan channels.Inbound, 64), logger: logger}
}

func (a *Adapter) Type() string { return "discord" }

func (a *Adapter) Inbound() <-chan channels.Inbound { return a.out }

func (a *Adapter) Start(context.Context) error {
	session, err := discordgo.New("Bot " + a.cfg.Token)
	if err != nil {
		return err
	}
	session.AddHandler(a.handleMessageCreate)
	if err := session.Open(); err != nil {
		return err
	}
	a.session = session
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	if a.session == nil {
		return nil
	}
	return a.session.Close()
}

func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Content == "" {
		return
	}

	peer := models.Peer{Kind: models.PeerGroup, ID: m.ChannelID}
	if m.GuildID == "" {
		peer.Kind = models.PeerDM
	}

	inbound := channels.Inbound{
		Channel:   a.Type(),
		AccountID: a.cfg.AccountID,
		Peer:      peer,
		Message: models.Message{
			Role: models.RoleUser,
			Text: m.Content,
		},
	}

	select {
	case a.out <- inbound:
	default:
		a.logger.Warn("discord inbound buffer full, dropping message", "channel_id", m.ChannelID)
	}
}
