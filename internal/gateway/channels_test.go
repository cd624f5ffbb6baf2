package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/agentmesh/gateway/internal/channels"
	"github.com/agentmesh/gateway/internal/providers"
	"github.com/agentmesh/gateway/internal/router"
	"github.com/agentmesh/gateway/pkg/models"
)

type fakeAdapter struct {
	typ       string
	in        chan channels.Inbound
	started   bool
	stopErr   error
	startErr  error
}

func (a *fakeAdapter) Type() string { return a.typ }
func (a *fakeAdapter) Start(ctx context.Context) error {
	a.started = true
	return a.startErr
}
func (a *fakeAdapter) Stop(ctx context.Context) error       { return a.stopErr }
func (a *fakeAdapter) Inbound() <-chan channels.Inbound { return a.in }

func TestStartChannelsNoopWithoutRegistry(t *testing.T) {
	s := newTestServer(t, &fakeTurnProvider{name: "anthropic"})
	s.channelRegistry = nil
	if err := s.startChannels(context.Background()); err != nil {
		t.Fatalf("expected no error without a registry, got %v", err)
	}
}

func TestStopChannelsNoopWithoutRegistry(t *testing.T) {
	s := newTestServer(t, &fakeTurnProvider{name: "anthropic"})
	s.channelRegistry = nil
	s.stopChannels(context.Background())
}

func TestStartChannelsStartsEveryAdapter(t *testing.T) {
	s := newTestServer(t, &fakeTurnProvider{name: "anthropic"})
	a := &fakeAdapter{typ: "telegram", in: make(chan channels.Inbound, 1)}
	reg := channels.NewRegistry()
	reg.Register(a)
	s.channelRegistry = reg

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.startChannels(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.started {
		t.Fatal("expected the adapter to be started")
	}
}

func TestHandleInboundRunsATurnAndAppendsTranscript(t *testing.T) {
	provider := &fakeTurnProvider{name: "anthropic", chunks: []providers.CompletionChunk{{Text: "ack"}}}
	s := newTestServer(t, provider)

	in := channels.Inbound{
		Channel:   "telegram",
		AccountID: "acct1",
		Peer:      models.Peer{Kind: models.PeerDM, ID: "user1"},
		Message:   models.Message{Text: "hello from telegram"},
	}
	s.handleInbound(context.Background(), in)

	_, _, rt := s.snapshot()
	peer := in.Peer
	route := rt.ResolveRoute(router.Inputs{Channel: in.Channel, AccountID: in.AccountID, Peer: &peer})
	history, err := s.sessions.History(route.SessionKey, 0)
	if err != nil {
		t.Fatalf("unexpected history error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user+assistant messages appended, got %d: %+v", len(history), history)
	}
}

func TestConsumeChannelDrainsInboundUntilContextCancelled(t *testing.T) {
	provider := &fakeTurnProvider{name: "anthropic", chunks: []providers.CompletionChunk{{Text: "ack"}}}
	s := newTestServer(t, provider)

	a := &fakeAdapter{typ: "telegram", in: make(chan channels.Inbound, 1)}
	a.in <- channels.Inbound{
		Channel:   "telegram",
		AccountID: "acct1",
		Peer:      models.Peer{Kind: models.PeerDM, ID: "user1"},
		Message:   models.Message{Text: "hi"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.consumeChannel(ctx, a)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected consumeChannel to return after context cancellation")
	}
}
