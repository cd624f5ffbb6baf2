package agent

import (
	"context"
	"log/slog"

	"github.com/agentmesh/gateway/pkg/models"
)

// ToolCallHook is a pre-invocation hook. Returning block=true skips
// invocation; the call fails with ToolBlocked(reason).
type ToolCallHook func(ctx context.Context, callID, name string, input []byte) (block bool, reason string)

// ToolResultHook is a post-invocation hook. The first hook that returns
// modified=true wins; its content replaces the result's content. Result
// details are not passed to these hooks and cannot be replaced by them.
type ToolResultHook func(ctx context.Context, callID, name string, content string, isError bool) (modifiedContent string, modified bool)

// HookRegistry holds the two ordered handler lists the tool executor
// consults around each call. Handler errors are logged and do not abort
// the pipeline.
type HookRegistry struct {
	preHooks  []ToolCallHook
	postHooks []ToolResultHook
	logger    *slog.Logger
}

// NewHookRegistry builds an empty registry.
func NewHookRegistry(logger *slog.Logger) *HookRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &HookRegistry{logger: logger}
}

// AddToolCallHook appends a pre-invocation hook.
func (r *HookRegistry) AddToolCallHook(h ToolCallHook) { r.preHooks = append(r.preHooks, h) }

// AddToolResultHook appends a post-invocation hook.
func (r *HookRegistry) AddToolResultHook(h ToolResultHook) { r.postHooks = append(r.postHooks, h) }

// RunToolCall runs the pre-invocation hooks in order. If any returns
// block=true, invocation is skipped.
func (r *HookRegistry) RunToolCall(ctx context.Context, callID, name string, input []byte) (block bool, reason string) {
	for _, h := range r.preHooks {
		b, reason := safeRunPre(r.logger, h, ctx, callID, name, input)
		if b {
			return true, reason
		}
	}
	return false, ""
}

func safeRunPre(logger *slog.Logger, h ToolCallHook, ctx context.Context, callID, name string, input []byte) (block bool, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("tool_call hook panicked", "recover", rec, "tool", name)
			block, reason = false, ""
		}
	}()
	return h(ctx, callID, name, input)
}

// RunToolResult runs the post-invocation hooks in order; the first hook
// that reports modified=true wins.
func (r *HookRegistry) RunToolResult(ctx context.Context, callID, name, content string, isError bool) string {
	for _, h := range r.postHooks {
		modified, ok := safeRunPost(r.logger, h, ctx, callID, name, content, isError)
		if ok {
			return modified
		}
	}
	return content
}

func safeRunPost(logger *slog.Logger, h ToolResultHook, ctx context.Context, callID, name, content string, isError bool) (out string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("tool_result hook panicked", "recover", rec, "tool", name)
			out, ok = "", false
		}
	}()
	return h(ctx, callID, name, content, isError)
}

// ToolMetaEvent is an alias of models.AgentEvent. The Executor emits no
// events itself; tool lifecycle events come from the Subscriber.
type ToolMetaEvent = models.AgentEvent
