// Package models holds the wire and persistence types shared across the
// gateway: frames, sessions, messages, tool calls and events.
package models

import "encoding/json"

// FrameType tags which of the three frame variants a wire message is.
type FrameType string

const (
	FrameRequest  FrameType = "req"
	FrameResponse FrameType = "res"
	FrameEvent    FrameType = "event"
)

// Frame is the tagged union transmitted over a connection. Exactly one of
// the variant-specific fields is populated depending on Type.
type Frame struct {
	Type FrameType `json:"type"`

	// Request fields.
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields (ID above carries the matching request id).
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`

	// Event fields.
	Event        string          `json:"event,omitempty"`
	EventPayload json.RawMessage `json:"eventPayload,omitempty"`
	Seq          *int64          `json:"seq,omitempty"`
	StateVersion *int64          `json:"stateVersion,omitempty"`
}

// FrameError is the error payload carried by an error response frame.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HelloPayload is the payload of the connect response, sent once the server
// has bound the connection to a principal.
type HelloPayload struct {
	ConnID          string       `json:"connId"`
	Version         string       `json:"version"`
	ProtocolVersion int          `json:"protocolVersion"`
	Capabilities    []string     `json:"capabilities"`
	Presence        PresenceView `json:"presence"`
	Auth            HelloAuth    `json:"auth"`
}

// HelloAuth describes the authenticated principal bound to the connection.
type HelloAuth struct {
	Role        string   `json:"role"`
	Scopes      []string `json:"scopes"`
	DeviceToken string   `json:"deviceToken,omitempty"`
}

// PresenceView is the snapshot of connected principals delivered at
// handshake time and on subsequent presence broadcasts.
type PresenceView struct {
	Entries      []PresenceEntry `json:"entries"`
	StateVersion int64           `json:"stateVersion"`
}

// PresenceEntry describes one connected principal.
type PresenceEntry struct {
	ConnID       string `json:"connId"`
	DeviceID     string `json:"deviceId,omitempty"`
	Role         string `json:"role"`
	ConnectedAt  int64  `json:"connectedAt"`
	LastActiveAt int64  `json:"lastActiveAt"`
}
