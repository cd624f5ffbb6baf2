package agent

import "github.com/agentmesh/gateway/pkg/models"

// EventSink receives agent events during processing. Implementations must
// be safe to call from multiple goroutines and should be non-blocking or
// handle backpressure gracefully.
//
// Grounded on the teacher's internal/agent/event_sink.go EventSink
// interface; this repo drops the ctx parameter because every Subscriber
// call site already owns a turn-scoped context via the goroutine it runs
// on, and threads it through Emit's caller instead.
type EventSink interface {
	Emit(e models.AgentEvent)
}

// MultiSink fans an event out to every non-nil sink.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink filters nil sinks and returns a fan-out sink.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches to every sink in order.
func (m *MultiSink) Emit(e models.AgentEvent) {
	for _, s := range m.sinks {
		s.Emit(e)
	}
}

// CallbackSink wraps a function as an EventSink.
type CallbackSink struct {
	fn func(models.AgentEvent)
}

// NewCallbackSink builds a sink calling fn per event.
func NewCallbackSink(fn func(models.AgentEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit calls the wrapped function.
func (c *CallbackSink) Emit(e models.AgentEvent) {
	if c.fn != nil {
		c.fn(e)
	}
}

// NopSink discards all events.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(models.AgentEvent) {}
