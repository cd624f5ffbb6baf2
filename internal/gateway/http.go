package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentmesh/gateway/internal/agent"
	"github.com/agentmesh/gateway/internal/auth"
	"github.com/agentmesh/gateway/pkg/models"
)

// chatCompletionsRequest mirrors the widely adopted chat-completions shape
// spec.md §6 requires the HTTP façade to accept. Model encodes
// "<systemTag>:<agentId>"; the agentId part is only hashed together with
// User into a stable session key and does not select which agent runs.
type chatCompletionsRequest struct {
	Model    string                   `json:"model"`
	Messages []chatCompletionsMessage `json:"messages"`
	Stream   bool                     `json:"stream,omitempty"`
	User     string                   `json:"user,omitempty"`
}

type chatCompletionsMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "messages is required", http.StatusBadRequest)
		return
	}

	agentID := agentIDFromModel(req.Model)
	sessionKey := sessionKeyFromUser(agentID, req.User)
	last := req.Messages[len(req.Messages)-1]
	params := chatSendParams{SessionKey: sessionKey, Content: last.Content}

	if req.Stream {
		s.streamChatCompletion(w, r.Context(), req.Model, sessionKey, params)
		return
	}

	result, cached, err := s.runTurn(r.Context(), params, true, agent.NopSink{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	text := result.text
	if cached != nil {
		text = decodeCachedText(cached.Payload)
	}

	resp := map[string]any{
		"id":      "chatcmpl-" + sessionKey,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": text,
			},
			"finish_reason": "stop",
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// streamSink adapts text deltas from the turn pipeline into SSE chunks.
type streamSink struct {
	onDelta func(string)
}

func (s streamSink) Emit(e models.AgentEvent) {
	if e.Type == models.EventBlockReply && s.onDelta != nil {
		s.onDelta(e.Text)
	}
}

// streamChatCompletion drives the shared turn pipeline and relays text
// deltas as SSE chunks, terminating with "data: [DONE]" per spec.md §6.
func (s *Server) streamChatCompletion(w http.ResponseWriter, ctx context.Context, model, sessionKey string, params chatSendParams) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeChunk := func(delta string) {
		chunk := map[string]any{
			"id":      "chatcmpl-" + sessionKey,
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{{
				"index": 0,
				"delta": map[string]any{"content": delta},
			}},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	_, cached, err := s.runTurn(ctx, params, true, streamSink{onDelta: writeChunk})
	if err != nil {
		errPayload, _ := json.Marshal(map[string]any{"error": err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", errPayload)
	} else if cached != nil {
		writeChunk(decodeCachedText(cached.Payload))
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func decodeCachedText(payload json.RawMessage) string {
	var v struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(payload, &v)
	return v.Text
}

func agentIDFromModel(model string) string {
	if idx := strings.Index(model, ":"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

func sessionKeyFromUser(agentID, user string) string {
	if user == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(agentID + "|" + user))
	return hex.EncodeToString(sum[:16])
}

// loginRequest is the HTTP façade's operator login request: a static key
// (provisioned out of band, e.g. an onboarding script or CI secret)
// exchanged for a short-lived JWT, so operators never have to hand out the
// static key itself to interactive callers.
type loginRequest struct {
	StaticKey string `json:"staticKey"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if s.auth == nil {
		http.Error(w, "auth not configured", http.StatusServiceUnavailable)
		return
	}
	principal, err := s.auth.ValidateStaticKey(req.StaticKey)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := s.auth.GenerateJWT(principal)
	if err != nil {
		if err == auth.ErrAuthDisabled {
			http.Error(w, "jwt issuance not configured", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token":   token,
		"subject": principal.Subject,
		"role":    principal.Role,
	})
}

// toolsInvokeHTTPRequest is the HTTP façade's /tools/invoke request shape.
type toolsInvokeHTTPRequest struct {
	Tool    string          `json:"tool"`
	Params  json.RawMessage `json:"params"`
	Context struct {
		SessionKey string `json:"sessionKey"`
	} `json:"context,omitempty"`
}

func (s *Server) handleToolsInvoke(w http.ResponseWriter, r *http.Request) {
	var req toolsInvokeHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if s.executor == nil {
		http.Error(w, "tool executor unavailable", http.StatusServiceUnavailable)
		return
	}
	call := models.ToolCall{ID: newCallID(), Name: req.Tool, Input: req.Params}
	result := s.executor.Execute(r.Context(), req.Context.SessionKey, call, func(string) {})

	resp := map[string]any{"ok": !result.IsError}
	if result.IsError {
		resp["error"] = result.Err.Error()
	} else {
		resp["result"] = result.Content
		resp["details"] = result.Details
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
