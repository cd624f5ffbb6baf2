package gateway

import (
	"context"

	"github.com/agentmesh/gateway/internal/agent"
	"github.com/agentmesh/gateway/internal/channels"
)

// startChannels brings up every registered channel adapter and spawns one
// goroutine per adapter draining its Inbound stream into the shared turn
// pipeline. Each inbound message becomes a chat.send-equivalent turn keyed
// by the gateway's own route resolution (channel/account/peer), not by any
// connection the adapter happens to be attached to — there is no operator
// connection to stream events back to, so these turns run with a
// NopSink and only the resulting transcript append is observable.
func (s *Server) startChannels(ctx context.Context) error {
	if s.channelRegistry == nil {
		return nil
	}
	if err := s.channelRegistry.StartAll(ctx); err != nil {
		return err
	}
	for _, a := range s.channelRegistry.All() {
		go s.consumeChannel(ctx, a)
	}
	return nil
}

func (s *Server) stopChannels(ctx context.Context) {
	if s.channelRegistry == nil {
		return
	}
	for _, err := range s.channelRegistry.StopAll(ctx) {
		s.logger.Warn("channel adapter stop failed", "error", err)
	}
}

func (s *Server) consumeChannel(ctx context.Context, a channels.Adapter) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-a.Inbound():
			if !ok {
				return
			}
			s.handleInbound(ctx, in)
		}
	}
}

func (s *Server) handleInbound(ctx context.Context, in channels.Inbound) {
	peer := in.Peer
	params := chatSendParams{
		Channel:   in.Channel,
		AccountID: in.AccountID,
		Peer:      &peer,
		Content:   in.Message.Text,
	}
	if _, _, err := s.runTurn(ctx, params, true, agent.NopSink{}); err != nil {
		s.logger.Error("inbound channel turn failed", "channel", in.Channel, "error", err)
	}
}
