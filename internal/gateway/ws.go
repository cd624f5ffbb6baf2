package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentmesh/gateway/internal/auth"
	"github.com/agentmesh/gateway/pkg/models"
)

const (
	protocolVersion = 1
	maxFrameBytes   = 1 << 20
	pongWait        = 45 * time.Second
	writeWait       = 10 * time.Second
	pingInterval    = 20 * time.Second
)

func (s *Server) newWSHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := s.newConn(r, conn)
		c.run()
	})
}

// conn is one WebSocket session: an outbound serializer (events for this
// connection are strictly ordered, per spec.md §4.12) wrapped around a
// gorilla/websocket connection, plus the handshake state spec.md §3
// requires (a monotone per-connection seq, the bound principal).
type conn struct {
	server *Server
	ws     *websocket.Conn
	send   chan models.Frame
	ctx    context.Context
	cancel context.CancelFunc

	id          string
	handshaken  atomic.Bool
	seq         int64
	principal   auth.Principal
	deviceID    string
	headerPrincipal *auth.Principal
}

func (s *Server) newConn(r *http.Request, ws *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		server:          s,
		ws:              ws,
		send:            make(chan models.Frame, 64),
		ctx:             ctx,
		cancel:          cancel,
		id:              uuid.NewString(),
		headerPrincipal: s.authenticateHeader(r),
	}
}

func (s *Server) authenticateHeader(r *http.Request) *auth.Principal {
	if s.auth == nil || !s.auth.Enabled() {
		return nil
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		token := strings.TrimSpace(authz[len("bearer "):])
		if p, err := s.auth.ValidateJWT(token); err == nil {
			return &p
		}
		if s.tokens != nil {
			if dt, err := s.tokens.ValidateToken(token); err == nil {
				p := auth.Principal{Subject: dt.DeviceID, Role: string(dt.Role), Scopes: dt.Scopes}
				return &p
			}
		}
	}
	return nil
}

func (c *conn) run() {
	defer c.teardown()
	go c.writeLoop()
	c.readLoop()
}

func (c *conn) teardown() {
	c.cancel()
	close(c.send)
	c.ws.Close()
	if c.handshaken.Load() {
		c.server.connMu.Lock()
		delete(c.server.conns, c.id)
		c.server.connMu.Unlock()
		view := c.server.presence.Leave(c.id)
		c.server.broadcastPresence(view)
	}
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(maxFrameBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			// Malformed frame: spec.md's ProtocolError kind terminates the
			// connection rather than trying to resynchronize.
			c.sendError("", "protocol_error", "malformed frame")
			return
		}
		if frame.Type != models.FrameRequest {
			c.sendError(frame.ID, "protocol_error", "expected request frame")
			return
		}

		if !c.handshaken.Load() {
			if frame.Method != "connect" {
				c.sendError(frame.ID, "unauthenticated", "first request must be connect")
				continue
			}
			if err := c.handleConnect(frame); err != nil {
				c.sendError(frame.ID, "unauthorized", err.Error())
				return
			}
			continue
		}

		c.server.presence.Touch(c.id)
		if err := c.server.dispatch(c, frame); err != nil {
			c.sendError(frame.ID, "request_failed", err.Error())
		}
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (c *conn) handleConnect(frame models.Frame) error {
	var params struct {
		MinProtocol int             `json:"minProtocol"`
		MaxProtocol int             `json:"maxProtocol"`
		Auth        *struct {
			Token string `json:"token"`
		} `json:"auth,omitempty"`
		Capabilities []string `json:"capabilities,omitempty"`
	}
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
	}
	minP, maxP := params.MinProtocol, params.MaxProtocol
	if minP <= 0 {
		minP = protocolVersion
	}
	if maxP <= 0 {
		maxP = protocolVersion
	}
	if protocolVersion < minP || protocolVersion > maxP {
		return fmt.Errorf("unsupported protocol version")
	}

	principal := auth.Principal{Role: "anonymous"}
	if c.server.auth != nil && c.server.auth.Enabled() {
		p := c.headerPrincipal
		if p == nil && params.Auth != nil {
			if resolved, err := c.resolveToken(params.Auth.Token); err == nil {
				p = &resolved
			}
		}
		if p == nil {
			return fmt.Errorf("unauthorized")
		}
		principal = *p
	}
	c.principal = principal
	c.deviceID = principal.Subject

	view := c.server.presence.Join(c.id, c.deviceID, principal.Role)

	hello := models.HelloPayload{
		ConnID:          c.id,
		Version:         "1",
		ProtocolVersion: protocolVersion,
		Capabilities:    []string{"chat.send", "tools.invoke", "sessions"},
		Presence:        view,
		Auth: models.HelloAuth{
			Role:   principal.Role,
			Scopes: principal.Scopes,
		},
	}
	if err := c.sendResponse(frame.ID, true, hello, nil); err != nil {
		return err
	}
	c.handshaken.Store(true)
	c.server.connMu.Lock()
	c.server.conns[c.id] = c
	c.server.connMu.Unlock()
	c.server.broadcastPresence(view)
	return nil
}

func (c *conn) resolveToken(token string) (auth.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Principal{}, fmt.Errorf("empty token")
	}
	if p, err := c.server.auth.ValidateJWT(token); err == nil {
		return p, nil
	}
	if p, err := c.server.auth.ValidateStaticKey(token); err == nil {
		return p, nil
	}
	if c.server.tokens != nil {
		if dt, err := c.server.tokens.ValidateToken(token); err == nil {
			return auth.Principal{Subject: dt.DeviceID, Role: string(dt.Role), Scopes: dt.Scopes}, nil
		}
	}
	return auth.Principal{}, fmt.Errorf("invalid token")
}

func (c *conn) sendResponse(id string, ok bool, payload any, frameErr *models.FrameError) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.enqueue(models.Frame{Type: models.FrameResponse, ID: id, OK: &ok, Payload: data, Error: frameErr})
}

func (c *conn) sendEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	seq := atomic.AddInt64(&c.seq, 1)
	return c.enqueue(models.Frame{Type: models.FrameEvent, Event: event, EventPayload: data, Seq: &seq})
}

func (c *conn) sendEventWithState(event string, payload any, stateVersion int64) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	seq := atomic.AddInt64(&c.seq, 1)
	return c.enqueue(models.Frame{Type: models.FrameEvent, Event: event, EventPayload: data, Seq: &seq, StateVersion: &stateVersion})
}

func (c *conn) sendError(id, code, message string) {
	_ = c.sendResponse(id, false, nil, &models.FrameError{Code: code, Message: message})
}

func (c *conn) enqueue(frame models.Frame) error {
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// broadcastPresence fans a presence update to every connected principal.
// Grounded on the teacher's ws_control_plane broadcast pattern, generalized
// from a single connection's tick loop to a registry-wide fan-out.
func (s *Server) broadcastPresence(view models.PresenceView) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	for _, c := range s.conns {
		_ = c.sendEventWithState("presence.update", view, view.StateVersion)
	}
}
