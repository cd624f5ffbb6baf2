package models

import "time"

// PeerKind enumerates the shapes a conversational peer can take.
type PeerKind string

const (
	PeerDM      PeerKind = "dm"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

// Peer identifies the other side of a conversation.
type Peer struct {
	Kind PeerKind `json:"kind"`
	ID   string   `json:"id"`
}

// Session is the authoritative per-conversation state. It is owned
// exclusively by the session store; callers obtain a handle guarded by the
// write lock before mutating it.
type Session struct {
	SessionKey string `json:"sessionKey"`
	SessionID  string `json:"sessionId"`

	AgentID   string `json:"agentId"`
	Channel   string `json:"channel"`
	AccountID string `json:"accountId"`
	Peer      *Peer  `json:"peer,omitempty"`

	TranscriptPath string `json:"-"`
	LockPath       string `json:"-"`

	Title    string            `json:"title,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Touch updates the session's last-activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}
