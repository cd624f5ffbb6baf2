package ctxprune

import (
	"testing"

	"github.com/agentmesh/gateway/pkg/models"
)

func toolResult(name, content string, timestamp int64) models.Message {
	return models.Message{Role: models.RoleToolResult, ToolName: name, Content: content, Timestamp: timestamp}
}

func TestPruneMessagesDisabledReturnsInputUnchanged(t *testing.T) {
	msgs := []models.Message{{Role: models.RoleUser, Text: "hi"}}
	out := PruneMessages(msgs, 1000, 0, Settings{Mode: ModeDisabled})
	if &out[0] != &msgs[0] {
		t.Fatal("expected the exact same slice backing array when disabled")
	}
}

func TestPruneMessagesNeverDropsUserOrAssistant(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Text: "sys"},
		{Role: models.RoleUser, Text: "hi"},
		{Role: models.RoleAssistant, Text: "hello"},
	}
	out := PruneMessages(msgs, 1000, 999999, Settings{
		Mode:          ModeCacheTTL,
		TTLMs:         1,
		PrunableTools: []string{"bash"},
	})
	if len(out) != 3 {
		t.Fatalf("expected all non-toolResult messages kept, got %d", len(out))
	}
}

func TestPruneMessagesCacheTTLDropsExpiredPrunableResult(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Text: "run ls"},
		toolResult("bash", "file listing", 1000),
		{Role: models.RoleAssistant, Text: "done"},
	}
	out := PruneMessages(msgs, 1000, 1000+5*60*1000, Settings{
		Mode:          ModeCacheTTL,
		TTLMs:         5 * 60 * 1000,
		PrunableTools: []string{"bash"},
	})
	if len(out) != 2 {
		t.Fatalf("expected the expired toolResult dropped, got %d messages: %+v", len(out), out)
	}
	for _, m := range out {
		if m.Role == models.RoleToolResult {
			t.Fatal("expired toolResult should have been dropped")
		}
	}
}

func TestPruneMessagesCacheTTLKeepsFreshResult(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Text: "run ls"},
		toolResult("bash", "file listing", 1000),
	}
	out := PruneMessages(msgs, 1000, 1000+60*1000, Settings{
		Mode:          ModeCacheTTL,
		TTLMs:         5 * 60 * 1000,
		PrunableTools: []string{"bash"},
	})
	if len(out) != 2 {
		t.Fatalf("expected fresh toolResult kept, got %d messages", len(out))
	}
}

func TestPruneMessagesCacheTTLKeepsNonPrunableTool(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Text: "search"},
		toolResult("web_search", "results", 1000),
	}
	out := PruneMessages(msgs, 1000, 1000+999999, Settings{
		Mode:          ModeCacheTTL,
		TTLMs:         5 * 60 * 1000,
		PrunableTools: []string{"bash"},
	})
	if len(out) != 2 {
		t.Fatalf("expected non-prunable tool result kept regardless of age, got %d", len(out))
	}
}

func TestPruneMessagesKeepsBootstrapSafeResultsBeforeFirstUser(t *testing.T) {
	msgs := []models.Message{
		toolResult("bash", "bootstrap output", 0),
		{Role: models.RoleUser, Text: "hi"},
	}
	out := PruneMessages(msgs, 1000, 999999999, Settings{
		Mode:              ModeCacheTTL,
		TTLMs:             1,
		KeepBootstrapSafe: true,
		PrunableTools:     []string{"bash"},
	})
	if len(out) != 2 {
		t.Fatalf("expected bootstrap-safe toolResult kept even though expired, got %d", len(out))
	}
}

func TestPruneMessagesUnknownRoleKeptFailOpen(t *testing.T) {
	msgs := []models.Message{
		{Role: "future-role", Text: "???"},
		toolResult("bash", "x", 1),
	}
	out := PruneMessages(msgs, 1000, 999999999, Settings{
		Mode:          ModeCacheTTL,
		TTLMs:         1,
		PrunableTools: []string{"bash"},
	})
	if len(out) != 1 || out[0].Role != "future-role" {
		t.Fatalf("expected unknown role kept and toolResult dropped, got %+v", out)
	}
}

func TestPruneMessagesSoftTrimDropsOverThreshold(t *testing.T) {
	big := make([]byte, 400)
	for i := range big {
		big[i] = 'x'
	}
	msgs := []models.Message{
		{Role: models.RoleUser, Text: "go"},
		toolResult("bash", string(big), 0),
		toolResult("bash", string(big), 0),
	}
	// contextWindowTokens=100, ratio=0.3 -> threshold=30 tokens. Each 400-char
	// result costs 100 tokens at 4 chars/token, so the first already exceeds
	// threshold and both should be dropped.
	out := PruneMessages(msgs, 100, 0, Settings{
		Mode:          ModeSoftTrim,
		SoftTrimRatio: 0.3,
		PrunableTools: []string{"bash"},
	})
	if len(out) != 1 {
		t.Fatalf("expected both oversized toolResults dropped, got %d messages", len(out))
	}
}

func TestPruneMessagesSoftTrimKeepsUnderThreshold(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Text: "go"},
		toolResult("bash", "tiny", 0),
	}
	out := PruneMessages(msgs, 1000, 0, Settings{
		Mode:          ModeSoftTrim,
		SoftTrimRatio: 0.9,
		PrunableTools: []string{"bash"},
	})
	if len(out) != 2 {
		t.Fatalf("expected small toolResult kept under a generous threshold, got %d", len(out))
	}
}
