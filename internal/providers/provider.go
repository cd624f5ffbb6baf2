// Package providers adapts external LLM backends (Anthropic, OpenAI) to a
// single streaming Provider interface the agent runtime consumes.
package providers

import (
	"context"
	"time"
)

// Provider is the interface the agent runtime drives to produce a
// streaming completion from some LLM backend.
type Provider interface {
	// Complete starts a completion and streams chunks until the response
	// finishes, errors, or ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
	Name() string
	Models() []Model
	SupportsTools() bool
}

// CompletionRequest mirrors the provider-agnostic request shape the
// router/session layer builds from transcript history.
type CompletionRequest struct {
	Model                string
	System               string
	Messages             []CompletionMessage
	Tools                []ToolSpec
	MaxTokens            int
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// CompletionMessage is one turn of conversation history handed to the
// provider.
type CompletionMessage struct {
	Role        string
	Content     string
	ToolCalls   []ToolCallRef
	ToolResults []ToolResultRef
}

// ToolCallRef references a tool invocation the assistant requested.
type ToolCallRef struct {
	ID    string
	Name  string
	Input []byte
}

// ToolResultRef carries a tool's outcome back into history.
type ToolResultRef struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ToolSpec describes one tool available to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      []byte
}

// CompletionChunk is one increment of a streaming response.
type CompletionChunk struct {
	Text          string
	ToolCall      *ToolCallRef
	Done          bool
	Err           error
	Thinking      string
	ThinkingStart bool
	ThinkingEnd   bool
	InputTokens   int
	OutputTokens  int
}

// Model describes one model a provider exposes.
type Model struct {
	ID             string
	Name           string
	ContextSize    int
	SupportsVision bool
}

// RetryPolicy holds shared retry configuration for provider backends.
// Grounded on the teacher's providers.BaseProvider.
type RetryPolicy struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultRetryPolicy mirrors the teacher's defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, RetryDelay: time.Second}
}

// Retry executes op with linear backoff, stopping early when isRetryable
// reports false for the error op returned.
func (p RetryPolicy) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	delay := p.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay * time.Duration(attempt)):
		}
	}
	return lastErr
}

// Registry resolves a model-string convention ("provider/model" or a bare
// model ID matched against each provider's Models()) to a Provider, per
// the OpenAI-compatible façade's model routing convention.
type Registry struct {
	providers []Provider
	byName    map[string]Provider
}

// NewRegistry builds a registry over the given providers, indexed by
// Name().
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: providers, byName: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.byName[p.Name()] = p
	}
	return r
}

// Resolve finds the provider for a model string. A "name/model" string
// selects the named provider directly; a bare model ID is matched against
// every provider's Models() list; if nothing matches and exactly one
// provider is registered, that provider is used as the default.
func (r *Registry) Resolve(modelString string) (Provider, string, bool) {
	name, model, hasSlash := splitModelString(modelString)
	if hasSlash {
		if p, ok := r.byName[name]; ok {
			return p, model, true
		}
		return nil, "", false
	}
	for _, p := range r.providers {
		for _, m := range p.Models() {
			if m.ID == modelString {
				return p, modelString, true
			}
		}
	}
	if len(r.providers) == 1 {
		return r.providers[0], modelString, true
	}
	return nil, "", false
}

func splitModelString(s string) (provider, model string, hasSlash bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i], s[i+1:], true
		}
	}
	return "", s, false
}
