package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agentmesh/gateway/internal/gatewayerr"
	"github.com/agentmesh/gateway/pkg/models"
)

type stubTool struct {
	content string
	details json.RawMessage
	err     error
	delay   time.Duration
	calls   int
}

func (s *stubTool) Invoke(ctx context.Context, callID string, input json.RawMessage, progress func(string)) (string, json.RawMessage, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
	return s.content, s.details, s.err
}

type stubRegistry struct {
	tools map[string]Tool
}

func (r stubRegistry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func TestExecuteRunsToolOnSuccess(t *testing.T) {
	tool := &stubTool{content: "result"}
	e := NewExecutor(stubRegistry{tools: map[string]Tool{"echo": tool}}, nil, nil, DefaultExecutorConfig())

	res := e.Execute(context.Background(), "sess1", models.ToolCall{ID: "c1", Name: "echo"}, nil)
	if res.IsError || res.Content != "result" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecuteUnknownToolFails(t *testing.T) {
	e := NewExecutor(stubRegistry{tools: map[string]Tool{}}, nil, nil, DefaultExecutorConfig())
	res := e.Execute(context.Background(), "sess1", models.ToolCall{ID: "c1", Name: "missing"}, nil)
	if !res.IsError || res.Err == nil {
		t.Fatalf("expected an error result for an unknown tool, got %+v", res)
	}
}

func TestExecuteBlockedByPreHook(t *testing.T) {
	hooks := NewHookRegistry(nil)
	hooks.AddToolCallHook(func(ctx context.Context, callID, name string, input []byte) (bool, string) {
		return true, "blocked by policy"
	})
	tool := &stubTool{content: "result"}
	e := NewExecutor(stubRegistry{tools: map[string]Tool{"echo": tool}}, hooks, nil, DefaultExecutorConfig())

	res := e.Execute(context.Background(), "sess1", models.ToolCall{ID: "c1", Name: "echo"}, nil)
	if !res.IsError || res.ErrorKind != gatewayerr.KindToolBlocked {
		t.Fatalf("expected ToolBlocked, got %+v", res)
	}
	if tool.calls != 0 {
		t.Fatal("expected the underlying tool to never run once blocked")
	}
}

func TestExecuteRequiresApproval(t *testing.T) {
	approval := NewApprovalGate(ApprovalPolicy{DangerousTools: []string{"bash"}, DefaultDecision: ApprovalPending})
	tool := &stubTool{content: "result"}
	e := NewExecutor(stubRegistry{tools: map[string]Tool{"bash": tool}}, nil, approval, DefaultExecutorConfig())

	res := e.Execute(context.Background(), "sess1", models.ToolCall{ID: "c1", Name: "bash"}, nil)
	if !res.IsError || res.ErrorKind != gatewayerr.KindApprovalRequired {
		t.Fatalf("expected ApprovalRequired, got %+v", res)
	}
	if tool.calls != 0 {
		t.Fatal("expected the underlying tool to never run while pending approval")
	}
}

func TestExecuteApprovedDangerousToolRuns(t *testing.T) {
	approval := NewApprovalGate(ApprovalPolicy{DangerousTools: []string{"bash"}, DefaultDecision: ApprovalPending})
	shape := ShapeKey("bash", nil)
	approval.Record("sess1", shape, ApprovalAllowed)

	tool := &stubTool{content: "ran"}
	e := NewExecutor(stubRegistry{tools: map[string]Tool{"bash": tool}}, nil, approval, DefaultExecutorConfig())

	res := e.Execute(context.Background(), "sess1", models.ToolCall{ID: "c1", Name: "bash"}, nil)
	if res.IsError || res.Content != "ran" {
		t.Fatalf("expected approved call to run, got %+v", res)
	}
}

func TestExecutePostHookRewritesContent(t *testing.T) {
	hooks := NewHookRegistry(nil)
	hooks.AddToolResultHook(func(ctx context.Context, callID, name, content string, isError bool) (string, bool) {
		return "redacted", true
	})
	tool := &stubTool{content: "secret value"}
	e := NewExecutor(stubRegistry{tools: map[string]Tool{"echo": tool}}, hooks, nil, DefaultExecutorConfig())

	res := e.Execute(context.Background(), "sess1", models.ToolCall{ID: "c1", Name: "echo"}, nil)
	if res.Content != "redacted" {
		t.Fatalf("expected post hook to rewrite content, got %q", res.Content)
	}
}

func TestExecuteToolErrorIsSurfaced(t *testing.T) {
	tool := &stubTool{err: errors.New("boom")}
	e := NewExecutor(stubRegistry{tools: map[string]Tool{"echo": tool}}, nil, nil, DefaultExecutorConfig())

	res := e.Execute(context.Background(), "sess1", models.ToolCall{ID: "c1", Name: "echo"}, nil)
	if !res.IsError || res.ErrorKind != gatewayerr.KindToolExecutionError {
		t.Fatalf("expected ToolExecutionError, got %+v", res)
	}
}

func TestExecuteTimesOut(t *testing.T) {
	tool := &stubTool{content: "late", delay: 50 * time.Millisecond}
	cfg := ExecutorConfig{Concurrency: 1, PerToolTimeout: 10 * time.Millisecond, MaxAttempts: 1}
	e := NewExecutor(stubRegistry{tools: map[string]Tool{"slow": tool}}, nil, nil, cfg)

	res := e.Execute(context.Background(), "sess1", models.ToolCall{ID: "c1", Name: "slow"}, nil)
	if !res.IsError {
		t.Fatal("expected a timeout to surface as an error result")
	}
}

func TestExecuteRetriesUpToMaxAttempts(t *testing.T) {
	attempts := 0
	tool := &retryingTool{fn: func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}}
	cfg := ExecutorConfig{Concurrency: 1, PerToolTimeout: time.Second, MaxAttempts: 3, RetryBackoff: time.Millisecond}
	e := NewExecutor(stubRegistry{tools: map[string]Tool{"flaky": tool}}, nil, nil, cfg)

	res := e.Execute(context.Background(), "sess1", models.ToolCall{ID: "c1", Name: "flaky"}, nil)
	if res.IsError {
		t.Fatalf("expected eventual success after retry, got %+v", res)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

type retryingTool struct {
	fn func() (string, error)
}

func (r *retryingTool) Invoke(ctx context.Context, callID string, input json.RawMessage, progress func(string)) (string, json.RawMessage, error) {
	content, err := r.fn()
	return content, nil, err
}

func TestExecuteConcurrentlyRunsAllCalls(t *testing.T) {
	toolA := &stubTool{content: "a"}
	toolB := &stubTool{content: "b"}
	e := NewExecutor(stubRegistry{tools: map[string]Tool{"a": toolA, "b": toolB}}, nil, nil, DefaultExecutorConfig())

	calls := []models.ToolCall{{ID: "c1", Name: "a"}, {ID: "c2", Name: "b"}}
	results := e.ExecuteConcurrently(context.Background(), "sess1", calls)

	if len(results) != 2 || results[0].Content != "a" || results[1].Content != "b" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestExecuteConcurrentlyRespectsConcurrencyLimit(t *testing.T) {
	e := NewExecutor(stubRegistry{tools: map[string]Tool{}}, nil, nil, ExecutorConfig{Concurrency: 2, PerToolTimeout: time.Second, MaxAttempts: 1})
	calls := make([]models.ToolCall, 5)
	for i := range calls {
		calls[i] = models.ToolCall{ID: "c", Name: "missing"}
	}
	results := e.ExecuteConcurrently(context.Background(), "sess1", calls)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.IsError {
			t.Fatal("expected all unknown-tool calls to fail")
		}
	}
}

func TestNewExecutorDefaultsConfig(t *testing.T) {
	e := NewExecutor(stubRegistry{tools: map[string]Tool{}}, nil, nil, ExecutorConfig{})
	if e.config.Concurrency != 4 || e.config.PerToolTimeout != 30*time.Second ||
		e.config.MaxAttempts != 1 || e.config.RetryBackoff != time.Second {
		t.Fatalf("unexpected defaulted config: %+v", e.config)
	}
}
