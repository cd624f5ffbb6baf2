// Package extensions reports the gateway's configured tool set as a
// unified, read-only listing. Grounded on the teacher's
// internal/extensions/extensions.go, narrowed to this gateway's single
// extension kind (registered tools) since it carries no plugin or MCP
// manager of its own.
package extensions

import (
	"sort"

	"github.com/agentmesh/gateway/internal/tools"
)

// Extension describes one configured tool available to the executor.
type Extension struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// List reports every tool registered with reg. It never gates execution —
// the approval gate already does that — this is purely observability over
// what's configured.
func List(reg *tools.Registry) []Extension {
	if reg == nil {
		return nil
	}
	defs := reg.Definitions()
	out := make([]Extension, 0, len(defs))
	for _, def := range defs {
		out = append(out, Extension{
			ID:     def.Name,
			Name:   def.Name,
			Kind:   "tool",
			Status: "eligible",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
