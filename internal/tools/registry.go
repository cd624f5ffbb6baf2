// Package tools implements the gateway's concrete tool set and the
// schema-validating registry agent.Executor dispatches into.
//
// Grounded on the teacher's internal/agent/tool_registry.go (a
// name-to-implementation map with thread-safe Register/Get) and
// internal/tools/exec (a shell tool with a JSON-schema-described input).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentmesh/gateway/internal/agent"
)

// Definition is one registered tool: its agent.Tool implementation plus the
// JSON schema its input must validate against before invocation.
type Definition struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Tool        agent.Tool
}

// Registry resolves tool names to implementations and validates each call's
// input against the tool's declared schema before invoking it, per
// spec.md's tool-input schema validation step.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	compiled map[string]*jsonschema.Schema
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]Definition),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool definition, compiling its schema eagerly so a bad
// schema fails at startup rather than on first invocation.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(def.Schema) > 0 {
		schema, err := jsonschema.CompileString("tool_"+def.Name, string(def.Schema))
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", def.Name, err)
		}
		r.compiled[def.Name] = schema
	}
	r.defs[def.Name] = def
	return nil
}

// Lookup satisfies agent.ToolRegistry, wrapping the raw tool with schema
// validation on every invocation.
func (r *Registry) Lookup(name string) (agent.Tool, bool) {
	r.mu.RLock()
	def, ok := r.defs[name]
	schema := r.compiled[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return validatingTool{def: def, schema: schema}, true
}

// Definitions returns every registered tool, for capability announcement
// (e.g. the extensions listing).
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	return out
}

type validatingTool struct {
	def    Definition
	schema *jsonschema.Schema
}

func (v validatingTool) Invoke(ctx context.Context, callID string, input json.RawMessage, progress func(string)) (string, json.RawMessage, error) {
	if v.schema != nil {
		var decoded any
		if err := json.Unmarshal(input, &decoded); err != nil {
			return "", nil, fmt.Errorf("invalid tool input: %w", err)
		}
		if err := v.schema.Validate(decoded); err != nil {
			return "", nil, fmt.Errorf("tool input failed schema validation: %w", err)
		}
	}
	return v.def.Tool.Invoke(ctx, callID, input, progress)
}
