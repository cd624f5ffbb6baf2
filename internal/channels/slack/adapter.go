// Package slack adapts slack-go/slack's Socket Mode client into a
// channels.Adapter, framing inbound channel/DM messages for the router.
package slack

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/agentmesh/gateway/internal/channels"
	"github.com/agentmesh/gateway/pkg/models"
)

// Config configures the Slack adapter.
type Config struct {
	BotToken  string
	AppToken  string
	AccountID string
	Logger    *slog.Logger
}

// Adapter frames Slack Events API message callbacks as channels.Inbound.
type Adapter struct {
	cfg          Config
	client       *slack.Client
	socketClient *socketmode.Client
	out          chan channels.Inbound
	logger       *slog.Logger
	cancel       context.CancelFunc
}

// New builds a Slack adapter.
func New(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socketClient := socketmode.New(client, socketmode.OptionDebug(false))
	return &Adapter{
		cfg:          cfg,
		client:       client,
		socketClient: socketClient,
		out:          make(chan channels.Inbound, 64),
		logger:       logger,
	}
}

func (a *Adapter) Type() string { return "slack" }

func (a *Adapter) Inbound() <-chan channels.Inbound { return a.out }

func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go a.handleEvents(runCtx)
	go func() {
		if err := a.socketClient.RunContext(runCtx); err != nil {
			a.logger.Error("slack socket mode run exited", "error", err)
		}
	}()
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

func (a *Adapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socketClient.Events:
			if !ok {
				return
			}
			if event.Type == socketmode.EventTypeEventsAPI {
				a.handleEventsAPI(event)
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		if event.Request != nil {
			a.socketClient.Ack(*event.Request)
		}
		return
	}
	if event.Request != nil {
		a.socketClient.Ack(*event.Request)
	}

	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if ev.BotID != "" || (ev.SubType != "" && ev.SubType != "file_share") {
		return
	}

	peer := models.Peer{Kind: models.PeerGroup, ID: ev.Channel}
	if ev.ChannelType == "im" {
		peer.Kind = models.PeerDM
	}

	inbound := channels.Inbound{
		Channel:   a.Type(),
		AccountID: a.cfg.AccountID,
		Peer:      peer,
		Message: models.Message{
			Role: models.RoleUser,
			Text: ev.Text,
		},
	}

	select {
	case a.out <- inbound:
	default:
		a.logger.Warn("slack inbound buffer full, dropping message", "channel", ev.Channel)
	}
}
