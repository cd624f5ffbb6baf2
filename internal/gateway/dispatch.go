package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentmesh/gateway/internal/extensions"
	"github.com/agentmesh/gateway/internal/router"
	"github.com/agentmesh/gateway/internal/sessions"
	"github.com/agentmesh/gateway/pkg/models"
)

// dispatch routes a handshaken connection's request frame to its method
// handler. Grounded on the teacher's wsSession.handleRequest switch,
// generalized to this gateway's method table: health, session.create,
// session.get_history, session.set_override, session.clear_override,
// chat.send, agent.run, tools.invoke, extensions.list,
// node.invoke.request/result, pairing.request/resolve.
func (s *Server) dispatch(c *conn, frame models.Frame) error {
	switch frame.Method {
	case "health":
		return c.sendResponse(frame.ID, true, map[string]any{"status": "ok", "uptimeMs": time.Since(s.startTime).Milliseconds()}, nil)
	case "ping":
		return c.sendResponse(frame.ID, true, map[string]any{"timestamp": time.Now().UnixMilli()}, nil)
	case "session.create":
		return s.handleSessionCreate(c, frame)
	case "session.get_history":
		return s.handleSessionGetHistory(c, frame)
	case "session.set_override":
		return s.handleSessionSetOverride(c, frame)
	case "session.clear_override":
		return s.handleSessionClearOverride(c, frame)
	case "extensions.list":
		return s.handleExtensionsList(c, frame)
	case "chat.send":
		return s.handleChatSend(c, frame)
	case "agent.run":
		return s.handleAgentRun(c, frame)
	case "tools.invoke":
		return s.handleToolsInvokeWS(c, frame)
	case "node.invoke.request":
		return s.handleNodeInvokeRequest(c, frame)
	case "node.invoke.result":
		return s.handleNodeInvokeResult(c, frame)
	case "pairing.request":
		return s.handlePairingRequest(c, frame)
	case "pairing.resolve":
		return s.handlePairingResolve(c, frame)
	default:
		return fmt.Errorf("unknown method %q", frame.Method)
	}
}

type sessionCreateParams struct {
	Channel       string            `json:"channel"`
	AccountID     string            `json:"accountId,omitempty"`
	Peer          *models.Peer      `json:"peer,omitempty"`
	ParentPeer    *models.Peer      `json:"parentPeer,omitempty"`
	GuildID       string            `json:"guildId,omitempty"`
	TeamID        string            `json:"teamId,omitempty"`
	DMScope       string            `json:"dmScope,omitempty"`
	IdentityLinks map[string][]string `json:"identityLinks,omitempty"`
}

func (s *Server) handleSessionCreate(c *conn, frame models.Frame) error {
	var params sessionCreateParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
	}
	cfg, _, rt := s.snapshot()

	route := rt.ResolveRoute(routerInputs(params))
	sess := s.sessions.GetOrCreate(route.SessionKey, &models.Session{
		AgentID:   route.AgentID,
		Channel:   route.Channel,
		AccountID: route.AccountID,
		Peer:      params.Peer,
	})
	_ = cfg
	return c.sendResponse(frame.ID, true, map[string]any{
		"sessionKey": sess.SessionKey,
		"sessionId":  sess.SessionID,
		"agentId":    route.AgentID,
		"matchedBy":  route.MatchedBy,
	}, nil)
}

type sessionGetHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

func (s *Server) handleSessionGetHistory(c *conn, frame models.Frame) error {
	var params sessionGetHistoryParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	msgs, err := s.sessions.History(params.SessionKey, limit)
	if err != nil {
		return err
	}
	return c.sendResponse(frame.ID, true, map[string]any{"messages": msgs}, nil)
}

type sessionSetOverrideParams struct {
	SessionKey string `json:"sessionKey"`
	Model      string `json:"model,omitempty"`
	Verbosity  string `json:"verbosity,omitempty"`
}

// handleSessionSetOverride persists a per-session model/verbosity override,
// consulted on every subsequent turn for that sessionKey until cleared.
func (s *Server) handleSessionSetOverride(c *conn, frame models.Frame) error {
	var params sessionSetOverrideParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if params.SessionKey == "" {
		return fmt.Errorf("sessionKey is required")
	}
	if s.overrides == nil {
		return c.sendResponse(frame.ID, false, nil, &models.FrameError{Code: "overrides_disabled", Message: "session overrides are not configured"})
	}
	ov := sessions.Override{Model: params.Model, Verbosity: params.Verbosity}
	if err := s.overrides.Set(params.SessionKey, ov); err != nil {
		return err
	}
	return c.sendResponse(frame.ID, true, map[string]any{"sessionKey": params.SessionKey}, nil)
}

type sessionClearOverrideParams struct {
	SessionKey string `json:"sessionKey"`
}

func (s *Server) handleSessionClearOverride(c *conn, frame models.Frame) error {
	var params sessionClearOverrideParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if s.overrides == nil {
		return c.sendResponse(frame.ID, false, nil, &models.FrameError{Code: "overrides_disabled", Message: "session overrides are not configured"})
	}
	if err := s.overrides.Clear(params.SessionKey); err != nil {
		return err
	}
	return c.sendResponse(frame.ID, true, map[string]any{"sessionKey": params.SessionKey}, nil)
}

// handleExtensionsList reports configured tools as a read-only eligibility
// listing; it does not gate execution, the approval gate already does that.
func (s *Server) handleExtensionsList(c *conn, frame models.Frame) error {
	return c.sendResponse(frame.ID, true, map[string]any{"extensions": extensions.List(s.toolRegistry)}, nil)
}

type toolsInvokeParams struct {
	SessionKey string          `json:"sessionKey"`
	Tool       string          `json:"tool"`
	Params     json.RawMessage `json:"params"`
}

func (s *Server) handleToolsInvokeWS(c *conn, frame models.Frame) error {
	var params toolsInvokeParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if s.executor == nil {
		return fmt.Errorf("tool executor unavailable")
	}
	call := models.ToolCall{ID: newCallID(), Name: params.Tool, Input: params.Params}
	result := s.executor.Execute(c.ctx, params.SessionKey, call, func(string) {})
	if result.IsError {
		return c.sendResponse(frame.ID, true, map[string]any{
			"ok":    false,
			"error": result.Err.Error(),
		}, nil)
	}
	return c.sendResponse(frame.ID, true, map[string]any{
		"ok":      true,
		"result":  result.Content,
		"details": result.Details,
	}, nil)
}

// pendingNodeInvoke correlates a node.invoke.request with its matching
// node.invoke.result, forwarded across two distinct connections.
type pendingNodeInvoke struct {
	requesterConn string
	requestID     string
}

type nodeInvokeRequestParams struct {
	TargetDeviceID string          `json:"targetDeviceId"`
	Tool           string          `json:"tool"`
	Params         json.RawMessage `json:"params"`
}

func (s *Server) handleNodeInvokeRequest(c *conn, frame models.Frame) error {
	var params nodeInvokeRequestParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	target := s.findConnByDevice(params.TargetDeviceID)
	if target == nil {
		return c.sendResponse(frame.ID, true, map[string]any{"ok": false, "error": "target node not connected"}, nil)
	}

	requestID := newCallID()
	s.nodeInvokeMu.Lock()
	if s.nodeInvokePending == nil {
		s.nodeInvokePending = make(map[string]pendingNodeInvoke)
	}
	s.nodeInvokePending[requestID] = pendingNodeInvoke{requesterConn: c.id, requestID: frame.ID}
	s.nodeInvokeMu.Unlock()

	if err := target.sendEvent("node.invoke", map[string]any{
		"requestId": requestID,
		"tool":      params.Tool,
		"params":    params.Params,
	}); err != nil {
		return c.sendResponse(frame.ID, true, map[string]any{"ok": false, "error": "target node unreachable"}, nil)
	}
	// The response to the originating request is deferred until the matching
	// node.invoke.result arrives; the caller blocks on the client-visible
	// frame.ID via its own request bookkeeping.
	return nil
}

type nodeInvokeResultParams struct {
	RequestID string          `json:"requestId"`
	OK        bool            `json:"ok"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (s *Server) handleNodeInvokeResult(c *conn, frame models.Frame) error {
	var params nodeInvokeResultParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	s.nodeInvokeMu.Lock()
	pending, ok := s.nodeInvokePending[params.RequestID]
	if ok {
		delete(s.nodeInvokePending, params.RequestID)
	}
	s.nodeInvokeMu.Unlock()
	if !ok {
		return c.sendResponse(frame.ID, true, map[string]any{"ok": true}, nil)
	}

	requester := s.findConn(pending.requesterConn)
	if requester != nil {
		_ = requester.sendResponse(pending.requestID, params.OK, map[string]any{
			"result": params.Result,
			"error":  params.Error,
		}, nil)
	}
	return c.sendResponse(frame.ID, true, map[string]any{"ok": true}, nil)
}

func (s *Server) findConn(connID string) *conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conns[connID]
}

func (s *Server) findConnByDevice(deviceID string) *conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	for _, c := range s.conns {
		if c.deviceID == deviceID {
			return c
		}
	}
	return nil
}

func routerInputs(p sessionCreateParams) router.Inputs {
	return router.Inputs{
		Channel:       p.Channel,
		AccountID:     p.AccountID,
		Peer:          p.Peer,
		ParentPeer:    p.ParentPeer,
		GuildID:       p.GuildID,
		TeamID:        p.TeamID,
		DMScope:       p.DMScope,
		IdentityLinks: p.IdentityLinks,
	}
}

func newCallID() string {
	return strings.ReplaceAll(fmt.Sprintf("call_%d", time.Now().UnixNano()), "-", "")
}
