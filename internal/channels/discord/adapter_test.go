package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/agentmesh/gateway/pkg/models"
)

func TestAdapterTypeIsDiscord(t *testing.T) {
	a := New(Config{Token: "x"})
	if a.Type() != "discord" {
		t.Fatalf("expected type discord, got %q", a.Type())
	}
}

func TestHandleMessageCreateIgnoresBotAuthor(t *testing.T) {
	a := New(Config{Token: "x"})
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "c1",
		Content:   "hi",
		Author:    &discordgo.User{ID: "bot1", Bot: true},
	}})

	select {
	case got := <-a.out:
		t.Fatalf("expected bot messages to be ignored, got %+v", got)
	default:
	}
}

func TestHandleMessageCreateIgnoresNilAuthor(t *testing.T) {
	a := New(Config{Token: "x"})
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "c1",
		Content:   "hi",
	}})

	select {
	case got := <-a.out:
		t.Fatalf("expected nil-author messages to be ignored, got %+v", got)
	default:
	}
}

func TestHandleMessageCreateIgnoresEmptyContent(t *testing.T) {
	a := New(Config{Token: "x"})
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "c1",
		Content:   "",
		Author:    &discordgo.User{ID: "user1"},
	}})

	select {
	case got := <-a.out:
		t.Fatalf("expected empty content to be ignored, got %+v", got)
	default:
	}
}

func TestHandleMessageCreateGuildMessageProducesGroupPeer(t *testing.T) {
	a := New(Config{Token: "x", AccountID: "acct1"})
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "chan1",
		GuildID:   "guild1",
		Content:   "hello guild",
		Author:    &discordgo.User{ID: "user1"},
	}})

	select {
	case got := <-a.out:
		if got.Peer.Kind != models.PeerGroup || got.Peer.ID != "chan1" {
			t.Fatalf("expected group peer chan1, got %+v", got.Peer)
		}
		if got.Channel != "discord" || got.AccountID != "acct1" {
			t.Fatalf("unexpected channel/account, got %+v", got)
		}
		if got.Message.Text != "hello guild" || got.Message.Role != models.RoleUser {
			t.Fatalf("unexpected message, got %+v", got.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestHandleMessageCreateNoGuildProducesDMPeer(t *testing.T) {
	a := New(Config{Token: "x", AccountID: "acct1"})
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "chan1",
		Content:   "hello dm",
		Author:    &discordgo.User{ID: "user1"},
	}})

	select {
	case got := <-a.out:
		if got.Peer.Kind != models.PeerDM || got.Peer.ID != "chan1" {
			t.Fatalf("expected DM peer chan1, got %+v", got.Peer)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestHandleMessageCreateDropsWhenBufferFull(t *testing.T) {
	a := New(Config{Token: "x"})
	for i := 0; i < cap(a.out); i++ {
		a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
			ChannelID: "filler",
			Content:   "filler",
			Author:    &discordgo.User{ID: "user1"},
		}})
	}

	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "overflow",
		Content:   "overflow",
		Author:    &discordgo.User{ID: "user1"},
	}})

	if len(a.out) != cap(a.out) {
		t.Fatalf("expected buffer to stay at capacity after drop, got %d/%d", len(a.out), cap(a.out))
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	a := New(Config{Token: "x"})
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("expected Stop without Start to be a no-op, got %v", err)
	}
}
