package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentmesh/gateway/internal/agent"
	"github.com/agentmesh/gateway/internal/cache"
	"github.com/agentmesh/gateway/internal/ctxprune"
	"github.com/agentmesh/gateway/internal/gatewayerr"
	"github.com/agentmesh/gateway/internal/providers"
	"github.com/agentmesh/gateway/internal/router"
	"github.com/agentmesh/gateway/pkg/models"
	"github.com/google/uuid"
)

// chatSendParams is shared by chat.send and agent.run: the latter omits
// Content to resume a turn against existing history (e.g. after an external
// tool result lands) rather than appending a new user message.
type chatSendParams struct {
	SessionKey     string            `json:"sessionKey,omitempty"`
	Channel        string            `json:"channel,omitempty"`
	AccountID      string            `json:"accountId,omitempty"`
	Peer           *models.Peer      `json:"peer,omitempty"`
	Content        string            `json:"content,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

func (s *Server) handleChatSend(c *conn, frame models.Frame) error {
	return s.dispatchTurn(c, frame, true)
}

func (s *Server) handleAgentRun(c *conn, frame models.Frame) error {
	return s.dispatchTurn(c, frame, false)
}

// dispatchTurn adapts the WebSocket request/response envelope onto the
// shared turn pipeline (runTurn), forwarding typed agent events to the
// connection as they're produced.
func (s *Server) dispatchTurn(c *conn, frame models.Frame, appendUserMessage bool) error {
	var params chatSendParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}

	sink := agent.NewCallbackSink(func(e models.AgentEvent) { s.forwardEvent(c, e) })
	result, cached, err := s.runTurn(c.ctx, params, appendUserMessage, sink)
	if err != nil {
		if gerr, ok := err.(*gatewayerr.Error); ok && gerr.Kind == gatewayerr.KindLockTimeout {
			return c.sendResponse(frame.ID, false, nil, &models.FrameError{Code: string(gatewayerr.KindLockTimeout), Message: gerr.Error()})
		}
		return err
	}
	if cached != nil {
		return c.sendResponse(frame.ID, cached.OK, json.RawMessage(cached.Payload), decodeFrameError(cached.Error))
	}

	payload, _ := json.Marshal(map[string]any{
		"sessionKey": result.sessionKey,
		"text":       result.text,
		"toolCalls":  result.toolCallCount,
	})
	return c.sendResponse(frame.ID, true, json.RawMessage(payload), nil)
}

type turnResult struct {
	sessionKey    string
	text          string
	toolCallCount int
}

// runTurn implements spec.md §4.12's pipeline: check dedupe, resolve route,
// acquire write lock, prune context, run the turn via the model provider
// streaming events into sink, append the final messages to the transcript,
// store the dedupe entry. Shared by the WebSocket chat.send/agent.run
// methods and the HTTP façade's /v1/chat/completions.
//
// If the idempotency key hits the dedupe cache, cached is non-nil and
// result is the zero value; callers MUST return the cached outcome
// unchanged instead of treating it as a fresh result.
func (s *Server) runTurn(ctx context.Context, params chatSendParams, appendUserMessage bool, sink agent.EventSink) (result turnResult, cached *cache.DedupeEntry, err error) {
	if params.IdempotencyKey != "" {
		if entry := s.dedupe.Get(params.IdempotencyKey); entry != nil {
			return turnResult{}, entry, nil
		}
	}

	cfg, pruning, rt := s.snapshot()

	sessionKey := params.SessionKey
	var route models.RouteResult
	if sessionKey == "" {
		route = rt.ResolveRoute(router.Inputs{
			Channel:   params.Channel,
			AccountID: params.AccountID,
			Peer:      params.Peer,
		})
		sessionKey = route.SessionKey
	}

	sess := s.sessions.GetOrCreate(sessionKey, &models.Session{
		AgentID:   route.AgentID,
		Channel:   params.Channel,
		AccountID: params.AccountID,
		Peer:      params.Peer,
	})

	lockErr := s.sessions.WithLock(ctx, sessionKey, cfg.Sessions.LockMaxHold, func() error {
		var innerErr error
		result, innerErr = s.executeTurn(ctx, sess, params, appendUserMessage, pruning, sink)
		return innerErr
	})
	if lockErr != nil {
		return turnResult{}, nil, lockErr
	}
	result.sessionKey = sessionKey

	if params.IdempotencyKey != "" {
		payload, _ := json.Marshal(map[string]any{
			"sessionKey": sessionKey,
			"text":       result.text,
			"toolCalls":  result.toolCallCount,
		})
		s.dedupe.Set(params.IdempotencyKey, true, payload, nil)
	}
	return result, nil, nil
}

// executeTurn runs under the session's write lock: prune, call the
// provider, drive the subscriber from streamed chunks, execute any tool
// calls, and append every resulting message to the transcript.
func (s *Server) executeTurn(ctx context.Context, sess *models.Session, params chatSendParams, appendUserMessage bool, pruning ctxprune.Settings, sink agent.EventSink) (turnResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.armWatchdog(sess.SessionKey, cancel)
	defer s.disarmWatchdog(sess.SessionKey)

	now := time.Now()

	if appendUserMessage {
		userMsg := models.Message{Role: models.RoleUser, Text: params.Content, Timestamp: now.UnixMilli()}
		if err := s.sessions.AppendMessage(sess.SessionKey, userMsg); err != nil {
			return turnResult{}, err
		}
	}

	history, err := s.sessions.History(sess.SessionKey, 0)
	if err != nil {
		return turnResult{}, gatewayerr.Wrap(gatewayerr.KindTranscriptWriteFailed, "read history", err)
	}

	const contextWindowTokens = 180_000
	pruned := ctxprune.PruneMessages(history, contextWindowTokens, now.UnixMilli(), pruning)

	runID := uuid.NewString()
	sub := agent.NewSubscriber(runID, 0, sink)

	if s.providers == nil {
		return turnResult{}, gatewayerr.New(gatewayerr.KindProviderError, "no model provider configured")
	}
	modelString := sess.Metadata["model"]
	if modelString == "" {
		modelString = s.defaultModelString()
	}
	if s.overrides != nil {
		modelString = s.overrides.Get(sess.SessionKey).Apply(modelString)
	}
	provider, model, ok := s.providers.Resolve(modelString)
	if !ok {
		return turnResult{}, gatewayerr.New(gatewayerr.KindProviderError, "no provider resolves model "+modelString)
	}

	req := providers.CompletionRequest{
		Model:    model,
		Messages: toCompletionMessages(pruned),
	}

	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return turnResult{}, gatewayerr.Wrap(gatewayerr.KindProviderError, "provider completion", err)
	}

	result, err := s.drainCompletion(ctx, sub, sess, chunks)
	if err != nil {
		return turnResult{}, err
	}
	return result, nil
}

// drainCompletion reads provider chunks, drives the subscriber, executes
// any tool calls the model requested, and appends the resulting assistant
// and toolResult messages to the transcript.
func (s *Server) drainCompletion(ctx context.Context, sub *agent.Subscriber, sess *models.Session, chunks <-chan providers.CompletionChunk) (turnResult, error) {
	messageID := uuid.NewString()
	sub.MessageStart(messageID)

	var toolCalls []models.ToolCall
	for chunk := range chunks {
		if chunk.Err != nil {
			return turnResult{}, gatewayerr.Wrap(gatewayerr.KindProviderError, "provider stream", chunk.Err)
		}
		if chunk.Text != "" {
			sub.TextDelta(chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, models.ToolCall{
				ID:    chunk.ToolCall.ID,
				Name:  chunk.ToolCall.Name,
				Input: chunk.ToolCall.Input,
			})
		}
	}
	sub.TextEnd()
	sub.MessageEnd()

	text := joinTexts(sub.AssistantTexts())
	assistantMsg := models.Message{
		Role:      models.RoleAssistant,
		Text:      text,
		ToolCalls: toolCalls,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.sessions.AppendMessage(sess.SessionKey, assistantMsg); err != nil {
		return turnResult{}, err
	}

	if s.executor != nil {
		for _, call := range toolCalls {
			sub.ToolExecutionStart(call.ID, call.Name, string(call.Input), time.Now())
			res := s.executor.Execute(ctx, sess.SessionKey, call, func(progress string) {
				sub.ToolExecutionUpdate(call.ID, progress)
			})
			sub.ToolExecutionEnd(call.ID, call.Name, !res.IsError, res.Content, errString(res.Err))

			toolMsg := models.Message{
				Role:       models.RoleToolResult,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    res.Content,
				Success:    !res.IsError,
				Timestamp:  time.Now().UnixMilli(),
			}
			if err := s.sessions.AppendMessage(sess.SessionKey, toolMsg); err != nil {
				return turnResult{}, err
			}
		}
	}

	return turnResult{text: text, toolCallCount: len(toolCalls)}, nil
}

func (s *Server) forwardEvent(c *conn, e models.AgentEvent) {
	payload := map[string]any{
		"runId":     e.RunID,
		"turnIndex": e.TurnIndex,
		"sequence":  e.Sequence,
	}
	switch e.Type {
	case models.EventBlockReply:
		payload["text"] = e.Text
	case models.EventToolStart:
		payload["toolCallId"] = e.ToolCallID
		payload["toolName"] = e.ToolName
	case models.EventToolUpdate:
		payload["toolCallId"] = e.ToolCallID
		payload["detail"] = e.Text
	case models.EventToolEnd:
		payload["toolCallId"] = e.ToolCallID
		payload["toolName"] = e.ToolName
		payload["success"] = e.Success
		payload["result"] = e.Result
		payload["error"] = e.ErrMessage
	case models.EventAssistantMessage:
		payload["messageId"] = e.MessageID
	}
	_ = c.sendEvent(string(e.Type), payload)
}

func toCompletionMessages(msgs []models.Message) []providers.CompletionMessage {
	out := make([]providers.CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, providers.CompletionMessage{Role: "system", Content: m.Text})
		case models.RoleUser:
			out = append(out, providers.CompletionMessage{Role: "user", Content: m.Text})
		case models.RoleAssistant:
			cm := providers.CompletionMessage{Role: "assistant", Content: m.Text}
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, providers.ToolCallRef{ID: tc.ID, Name: tc.Name, Input: tc.Input})
			}
			out = append(out, cm)
		case models.RoleToolResult:
			out = append(out, providers.CompletionMessage{
				Role: "tool",
				ToolResults: []providers.ToolResultRef{{
					ToolCallID: m.ToolCallID,
					Content:    m.Content,
					IsError:    !m.Success,
				}},
			})
		}
	}
	return out
}

func joinTexts(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func decodeFrameError(raw json.RawMessage) *models.FrameError {
	if len(raw) == 0 {
		return nil
	}
	var fe models.FrameError
	if err := json.Unmarshal(raw, &fe); err != nil {
		return nil
	}
	return &fe
}
