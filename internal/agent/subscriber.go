// Package agent implements the per-turn event subscriber state machine, the
// lazy event stream, and the tool execution pipeline.
package agent

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentmesh/gateway/pkg/models"
)

// BlockReplyMode selects when accumulated text is flushed as an
// intermediate block_reply event.
type BlockReplyMode string

const (
	BlockReplyOnTextEnd    BlockReplyMode = "text_end"
	BlockReplyOnMessageEnd BlockReplyMode = "message_end"
)

// defaultMessagingTools is the default set of tools whose successful text
// result is folded into assistantTexts (WithMessagingTools replaces it),
// per spec.md §4.7.
var defaultMessagingTools = map[string]struct{}{
	"send_message": {},
	"reply":        {},
}

// Subscriber is a per-turn finite-state machine over model-driven events:
// idle -> messageActive -> [textAccumulating | toolActive]* -> idle. Its
// mutable state is local to the turn's goroutine; it is never shared.
type Subscriber struct {
	mu sync.Mutex

	runID         string
	turnIndex     int
	blockMode     BlockReplyMode
	messagingTool map[string]struct{}

	currentMessageID string
	deltaBuffer       strings.Builder
	assistantTexts    []string
	blockReplies      []string

	toolMetas        map[string]*models.ToolMeta
	toolErrors       map[string]error
	messagingToolHit map[string]bool

	sink EventSink
	seq  uint64
}

// Option configures a Subscriber at construction.
type Option func(*Subscriber)

// WithBlockReplyMode overrides the default (message_end) flush mode.
func WithBlockReplyMode(mode BlockReplyMode) Option {
	return func(s *Subscriber) { s.blockMode = mode }
}

// WithMessagingTools overrides the set of tools whose result text is
// folded into the assistant's accumulated text.
func WithMessagingTools(names []string) Option {
	return func(s *Subscriber) {
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[n] = struct{}{}
		}
		s.messagingTool = set
	}
}

// NewSubscriber constructs a Subscriber for one turn, emitting into sink.
func NewSubscriber(runID string, turnIndex int, sink EventSink, opts ...Option) *Subscriber {
	s := &Subscriber{
		runID:            runID,
		turnIndex:        turnIndex,
		blockMode:        BlockReplyOnMessageEnd,
		messagingTool:    defaultMessagingTools,
		toolMetas:        make(map[string]*models.ToolMeta),
		toolErrors:       make(map[string]error),
		messagingToolHit: make(map[string]bool),
		sink:             sink,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Subscriber) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func (s *Subscriber) emit(e models.AgentEvent) {
	e.RunID = s.runID
	e.TurnIndex = s.turnIndex
	e.Time = time.Now()
	e.Sequence = s.nextSeq()
	if s.sink != nil {
		s.sink.Emit(e)
	}
}

// MessageStart handles message_start(id): records currentMessageId and
// clears deltaBuffer.
func (s *Subscriber) MessageStart(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentMessageID = id
	s.deltaBuffer.Reset()
	s.emit(models.AgentEvent{Type: models.EventMessageStart, MessageID: id})
}

// TextStart handles message_update.text_start: resets deltaBuffer.
func (s *Subscriber) TextStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltaBuffer.Reset()
}

// TextDelta handles message_update.text_delta(d): appends to deltaBuffer and,
// in text_end block-mode, emits a block_reply(d) event immediately.
func (s *Subscriber) TextDelta(d string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltaBuffer.WriteString(d)
	if s.blockMode == BlockReplyOnTextEnd {
		clean := sanitizeBlockReplyTags(d)
		s.blockReplies = append(s.blockReplies, clean)
		s.emit(models.AgentEvent{Type: models.EventBlockReply, Text: clean})
	}
}

// TextEnd handles message_update.text_end: flushes deltaBuffer into
// assistantTexts and, in text_end block-mode, flushes pending block
// replies (a no-op here since TextDelta already flushed them inline).
func (s *Subscriber) TextEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushDeltaLocked()
}

// MessageEnd handles message_end: flushes any residual deltaBuffer, in
// message_end block-mode flushes accumulated block replies as one event,
// then emits on_assistant_message_end.
func (s *Subscriber) MessageEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushDeltaLocked()

	if s.blockMode == BlockReplyOnMessageEnd && len(s.blockReplies) > 0 {
		joined := strings.Join(s.blockReplies, "")
		s.blockReplies = nil
		s.emit(models.AgentEvent{Type: models.EventBlockReply, Text: joined})
	}

	s.emit(models.AgentEvent{Type: models.EventAssistantMessage, MessageID: s.currentMessageID})
	s.currentMessageID = ""
}

func (s *Subscriber) flushDeltaLocked() {
	if s.deltaBuffer.Len() == 0 {
		return
	}
	text := sanitizeBlockReplyTags(s.deltaBuffer.String())
	s.assistantTexts = append(s.assistantTexts, text)
	s.deltaBuffer.Reset()
	if s.blockMode == BlockReplyOnMessageEnd {
		s.blockReplies = append(s.blockReplies, text)
	}
}

// ToolExecutionStart handles tool_execution_start(id, name, args, ts):
// flushes pending block replies, records tool metadata, emits on_tool_start.
func (s *Subscriber) ToolExecutionStart(id, name, args string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushDeltaLocked()
	if s.blockMode == BlockReplyOnMessageEnd && len(s.blockReplies) > 0 {
		joined := strings.Join(s.blockReplies, "")
		s.blockReplies = nil
		s.emit(models.AgentEvent{Type: models.EventBlockReply, Text: joined})
	}
	s.toolMetas[id] = &models.ToolMeta{CallID: id, Name: name, StartedAt: ts, Args: args}
	s.emit(models.AgentEvent{Type: models.EventToolStart, ToolCallID: id, ToolName: name})
}

// ToolExecutionUpdate handles tool_execution_update(id, ...): emits
// on_tool_update.
func (s *Subscriber) ToolExecutionUpdate(id string, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(models.AgentEvent{Type: models.EventToolUpdate, ToolCallID: id, Text: detail})
}

// ToolExecutionEnd handles tool_execution_end(id, name, success, result,
// errMsg): sets lastToolError accordingly; for the configured messaging
// tool set, a successful result with text is folded into assistantTexts.
// Emits on_tool_end. A tool_execution_end without a preceding
// tool_execution_start is a logged anomaly with no state change (per the
// spec's resolved open question); HasToolStart lets a caller check first.
func (s *Subscriber) ToolExecutionEnd(id, name string, success bool, result, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.toolMetas[id]; !ok {
		slog.Warn("tool_execution_end without matching tool_execution_start", "toolCallId", id, "tool", name)
		return
	}

	if !success {
		s.toolErrors[id] = &toolError{msg: errMsg}
	} else {
		delete(s.toolErrors, id)
	}

	if success && result != "" {
		if _, ok := s.messagingTool[name]; ok {
			s.messagingToolHit[id] = true
			s.assistantTexts = append(s.assistantTexts, result)
		}
	}

	delete(s.toolMetas, id)
	s.emit(models.AgentEvent{
		Type:       models.EventToolEnd,
		ToolCallID: id,
		ToolName:   name,
		Success:    success,
		Result:     result,
		ErrMessage: errMsg,
	})
}

// HasToolStart reports whether id has a pending (unmatched)
// tool_execution_start, used to detect the tool_execution_end-without-start
// anomaly before calling ToolExecutionEnd.
func (s *Subscriber) HasToolStart(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.toolMetas[id]
	return ok
}

// AssistantTexts returns the accumulated assistant text fragments for the
// turn so far.
func (s *Subscriber) AssistantTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.assistantTexts))
	copy(out, s.assistantTexts)
	return out
}

type toolError struct{ msg string }

func (e *toolError) Error() string { return e.msg }

func sanitizeBlockReplyTags(s string) string {
	for {
		start := strings.Index(s, "<block_reply>")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], "</block_reply>")
		if end < 0 {
			return s[:start] + s[start+len("<block_reply>"):]
		}
		end += start
		s = s[:start] + s[start+len("<block_reply>"):end] + s[end+len("</block_reply>"):]
	}
}
