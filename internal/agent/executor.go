package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentmesh/gateway/internal/gatewayerr"
	"github.com/agentmesh/gateway/pkg/models"
)

// Tool is the invocation contract a tool implementation satisfies. progress
// is an optional callback for intermediate updates; cancel follows ctx.
type Tool interface {
	Invoke(ctx context.Context, callID string, input json.RawMessage, progress func(string)) (content string, details json.RawMessage, err error)
}

// ToolRegistry resolves tool names to implementations.
type ToolRegistry interface {
	Lookup(name string) (Tool, bool)
}

// ExecutorConfig bounds executor concurrency and per-call timeouts.
// Grounded on the teacher's internal/agent/tool_exec.go ToolExecConfig.
type ExecutorConfig struct {
	Concurrency    int
	PerToolTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// DefaultExecutorConfig mirrors the teacher's defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
		RetryBackoff:   time.Second,
	}
}

// Executor wraps tool invocation with the extension hook pipeline and the
// approval gate, per spec.md §4.9.
type Executor struct {
	registry ToolRegistry
	hooks    *HookRegistry
	approval *ApprovalGate
	config   ExecutorConfig
}

// NewExecutor builds an Executor. hooks/approval may be nil to disable
// those stages.
func NewExecutor(registry ToolRegistry, hooks *HookRegistry, approval *ApprovalGate, config ExecutorConfig) *Executor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	return &Executor{registry: registry, hooks: hooks, approval: approval, config: config}
}

// Result is one tool call's outcome.
type Result struct {
	Call      models.ToolCall
	Content   string
	Details   json.RawMessage
	IsError   bool
	ErrorKind gatewayerr.Kind
	Err       error
}

// Execute runs one tool call end to end:
//  1. emit tool_call (pre hooks); a block=true reply fails the call with
//     ToolBlocked.
//  2. if the tool is in the danger set, require an allowed approval
//     decision or fail with ApprovalRequired.
//  3. invoke the tool with (callID, input, progress) under PerToolTimeout,
//     retrying up to MaxAttempts.
//  4. on success, run post hooks (tool_result); the first hook that
//     modifies the content wins.
//  5. on exception, synthesize an isError tool_result and return the error.
func (e *Executor) Execute(ctx context.Context, sessionID string, call models.ToolCall, progress func(string)) Result {
	if e.hooks != nil {
		if block, reason := e.hooks.RunToolCall(ctx, call.ID, call.Name, call.Input); block {
			return Result{
				Call:      call,
				Content:   reason,
				IsError:   true,
				ErrorKind: gatewayerr.KindToolBlocked,
				Err:       gatewayerr.New(gatewayerr.KindToolBlocked, reason),
			}
		}
	}

	if e.approval != nil {
		shape := ShapeKey(call.Name, call.Input)
		decision := e.approval.Check(sessionID, call.Name, shape)
		if decision != ApprovalAllowed {
			return Result{
				Call:      call,
				Content:   "approval required",
				IsError:   true,
				ErrorKind: gatewayerr.KindApprovalRequired,
				Err:       gatewayerr.New(gatewayerr.KindApprovalRequired, "tool "+call.Name+" requires approval"),
			}
		}
	}

	tool, ok := e.registry.Lookup(call.Name)
	if !ok {
		err := fmt.Errorf("unknown tool %q", call.Name)
		return e.toolResultHook(ctx, call, "", true, gatewayerr.Wrap(gatewayerr.KindToolExecutionError, "unknown tool", err))
	}

	content, details, err := e.invokeWithRetry(ctx, tool, call, progress)
	if err != nil {
		return e.toolResultHook(ctx, call, err.Error(), true, gatewayerr.Wrap(gatewayerr.KindToolExecutionError, "tool raised", err))
	}

	res := e.toolResultHook(ctx, call, content, false, nil)
	res.Details = details
	return res
}

func (e *Executor) toolResultHook(ctx context.Context, call models.ToolCall, content string, isError bool, err error) Result {
	final := content
	if e.hooks != nil {
		final = e.hooks.RunToolResult(ctx, call.ID, call.Name, content, isError)
	}
	res := Result{Call: call, Content: final, IsError: isError, Err: err}
	var ge *gatewayerr.Error
	if errors.As(err, &ge) {
		res.ErrorKind = ge.Kind
	}
	return res
}

func (e *Executor) invokeWithRetry(ctx context.Context, tool Tool, call models.ToolCall, progress func(string)) (string, json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < e.config.MaxAttempts; attempt++ {
		content, details, timedOut, err := e.invokeWithTimeout(ctx, tool, call, progress)
		if err == nil {
			return content, details, nil
		}
		lastErr = err
		if timedOut {
			return "", nil, lastErr
		}
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		if attempt < e.config.MaxAttempts-1 {
			select {
			case <-time.After(e.config.RetryBackoff):
			case <-ctx.Done():
				return "", nil, ctx.Err()
			}
		}
	}
	return "", nil, lastErr
}

func (e *Executor) invokeWithTimeout(ctx context.Context, tool Tool, call models.ToolCall, progress func(string)) (content string, details json.RawMessage, timedOut bool, err error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()

	type outcome struct {
		content string
		details json.RawMessage
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		c, d, e := tool.Invoke(callCtx, call.ID, call.Input, progress)
		ch <- outcome{c, d, e}
	}()

	select {
	case o := <-ch:
		return o.content, o.details, false, o.err
	case <-callCtx.Done():
		if callCtx.Err() == context.DeadlineExceeded {
			return "", nil, true, callCtx.Err()
		}
		return "", nil, false, callCtx.Err()
	}
}

// ExecuteConcurrently runs several tool calls under a semaphore bounding
// concurrency to config.Concurrency, preserving each call's own result slot.
func (e *Executor) ExecuteConcurrently(ctx context.Context, sessionID string, calls []models.ToolCall) []Result {
	results := make([]Result, len(calls))
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = Result{Call: call, IsError: true, Err: ctx.Err()}
				return
			}
			results[i] = e.Execute(ctx, sessionID, call, nil)
		}(i, call)
	}
	wg.Wait()
	return results
}
