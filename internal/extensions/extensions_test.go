package extensions

import (
	"testing"

	"github.com/agentmesh/gateway/internal/tools"
)

func TestListReportsRegisteredToolsSorted(t *testing.T) {
	reg := tools.NewRegistry()
	_ = reg.Register(tools.Definition{Name: "shell"})
	_ = reg.Register(tools.Definition{Name: "bash"})

	out := List(reg)
	if len(out) != 2 {
		t.Fatalf("expected 2 extensions, got %d", len(out))
	}
	if out[0].ID != "bash" || out[1].ID != "shell" {
		t.Fatalf("expected sorted ids, got %+v", out)
	}
	for _, e := range out {
		if e.Kind != "tool" || e.Status != "eligible" {
			t.Errorf("unexpected extension %+v", e)
		}
	}
}

func TestListNilRegistryReturnsNil(t *testing.T) {
	if out := List(nil); out != nil {
		t.Fatalf("expected nil, got %+v", out)
	}
}
