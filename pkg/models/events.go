package models

import "time"

// AgentEventType enumerates the typed events the event subscriber emits
// during a single turn.
type AgentEventType string

const (
	EventRunStarted       AgentEventType = "run.started"
	EventRunFinished      AgentEventType = "run.finished"
	EventRunError         AgentEventType = "run.error"
	EventRunCancelled     AgentEventType = "run.cancelled"
	EventMessageStart     AgentEventType = "message.start"
	EventTextDelta        AgentEventType = "message.text_delta"
	EventBlockReply        AgentEventType = "message.block_reply"
	EventAssistantMessage AgentEventType = "message.end"
	EventToolStart        AgentEventType = "tool.start"
	EventToolUpdate       AgentEventType = "tool.update"
	EventToolEnd          AgentEventType = "tool.end"
)

// ToolMeta is the per-call metadata the event subscriber tracks between
// tool_execution_start and tool_execution_end.
type ToolMeta struct {
	CallID    string
	Name      string
	StartedAt time.Time
	Args      string
}

// AgentEvent is the typed event fanned out to subscribers and appended to
// the transcript's live view.
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	Time      time.Time      `json:"time"`
	Sequence  uint64         `json:"sequence"`
	RunID     string         `json:"runId"`
	TurnIndex int            `json:"turnIndex"`

	Text       string `json:"text,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Success    bool   `json:"success,omitempty"`
	Result     string `json:"result,omitempty"`
	ErrMessage string `json:"error,omitempty"`
	Err        error  `json:"-"`
}
