package tools

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeTool struct {
	calledWith json.RawMessage
	result     string
}

func (f *fakeTool) Invoke(ctx context.Context, callID string, input json.RawMessage, progress func(string)) (string, json.RawMessage, error) {
	f.calledWith = input
	return f.result, nil, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	tool := &fakeTool{result: "ok"}
	if err := r.Register(Definition{Name: "echo", Tool: tool}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, ok := r.Lookup("echo")
	if !ok {
		t.Fatal("expected tool to be found")
	}
	content, _, err := got.Invoke(context.Background(), "call1", json.RawMessage(`{"x":1}`), nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if content != "ok" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestLookupUnknownToolFails(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected lookup to fail for an unregistered tool")
	}
}

func TestRegisterCompilesSchemaEagerly(t *testing.T) {
	r := NewRegistry()
	badSchema := json.RawMessage(`{"type": "not-a-real-type"}`)
	err := r.Register(Definition{Name: "broken", Schema: badSchema, Tool: &fakeTool{}})
	if err == nil {
		t.Fatal("expected a bad schema to fail registration")
	}
}

func TestInvokeValidatesInputAgainstSchema(t *testing.T) {
	r := NewRegistry()
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
	tool := &fakeTool{result: "done"}
	if err := r.Register(Definition{Name: "read_file", Schema: schema, Tool: tool}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, _ := r.Lookup("read_file")

	if _, _, err := got.Invoke(context.Background(), "call1", json.RawMessage(`{}`), nil); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
	if tool.calledWith != nil {
		t.Fatal("expected the underlying tool to never run for invalid input")
	}

	content, _, err := got.Invoke(context.Background(), "call2", json.RawMessage(`{"path":"/tmp/x"}`), nil)
	if err != nil {
		t.Fatalf("expected valid input to pass, got %v", err)
	}
	if content != "done" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestDefinitionsReturnsAllRegistered(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Definition{Name: "a", Tool: &fakeTool{}}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Definition{Name: "b", Tool: &fakeTool{}}); err != nil {
		t.Fatal(err)
	}
	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
}
