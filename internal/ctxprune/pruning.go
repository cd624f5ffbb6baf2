// Package ctxprune implements the pre-turn context pruner: a bounded-history
// transform over the message list that keeps token usage under control
// while preserving the invariants spec.md §4.10 requires (user messages
// identical before/after, bootstrap-safe messages preserved, unknown roles
// kept fail-open).
//
// Grounded on the teacher's internal/agent/context/pruning.go for the
// copy-on-write update pattern and character-based token estimation; the
// mode set itself is rewritten to the spec's exact three modes
// (disabled/cache-ttl/soft-trim) rather than the teacher's combined
// ratio+hard-clear scheme.
package ctxprune

import (
	"github.com/agentmesh/gateway/pkg/models"
)

// Mode selects the pruning strategy.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeCacheTTL Mode = "cache-ttl"
	ModeSoftTrim Mode = "soft-trim"
)

// Settings configures a pruning pass.
type Settings struct {
	Mode              Mode
	TTLMs             int64
	KeepBootstrapSafe bool
	SoftTrimRatio     float64
	PrunableTools     []string
}

// DefaultSettings returns sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		Mode:              ModeCacheTTL,
		TTLMs:             5 * 60 * 1000,
		KeepBootstrapSafe: true,
		SoftTrimRatio:     0.3,
		PrunableTools:     []string{"bash", "shell", "exec"},
	}
}

// PruneMessages applies settings to messages, returning a new slice. The
// original slice and its *models.Message values are never mutated
// in-place; a fresh slice is allocated only when a message is actually
// dropped, otherwise the input is returned unchanged.
//
// Rules (applied in iteration order over the original list):
//   - system/user/assistant messages are never pruned.
//   - messages before the first user message are preserved when
//     KeepBootstrapSafe.
//   - toolResult messages are prunable iff their tool name is in
//     PrunableTools.
//   - cache-ttl: a prunable result is dropped when currentTimeMs -
//     timestamp >= ttlMs; entries without a timestamp are kept.
//   - soft-trim: a prunable result is dropped when keeping it would push
//     the running token total above floor(contextWindowTokens *
//     softTrimRatio); running totals accumulate in iteration order.
//   - unknown roles are kept (fail-open).
func PruneMessages(messages []models.Message, contextWindowTokens int, currentTimeMs int64, settings Settings) []models.Message {
	if settings.Mode == ModeDisabled || settings.Mode == "" {
		return messages
	}

	prunable := toSet(settings.PrunableTools)
	firstUser := findFirstUserIndex(messages)

	var runningTokens int
	threshold := int(float64(contextWindowTokens) * settings.SoftTrimRatio)

	var out []models.Message
	dropped := false

	for i, msg := range messages {
		keep := true

		switch msg.Role {
		case models.RoleSystem, models.RoleUser, models.RoleAssistant:
			keep = true
		case models.RoleToolResult:
			bootstrapSafe := settings.KeepBootstrapSafe && i < firstUser
			isPrunable := !bootstrapSafe && msg.IsPrunable(prunable)

			if isPrunable {
				switch settings.Mode {
				case ModeCacheTTL:
					if msg.Timestamp > 0 && currentTimeMs-msg.Timestamp >= settings.TTLMs {
						keep = false
					}
				case ModeSoftTrim:
					tokens := estimateTokens(msg.Content)
					if runningTokens+tokens > threshold {
						keep = false
					} else {
						runningTokens += tokens
					}
				}
			} else if settings.Mode == ModeSoftTrim {
				runningTokens += estimateTokens(msg.Content)
			}
		default:
			// Unknown roles are kept fail-open.
			keep = true
		}

		if keep {
			if dropped {
				out = append(out, msg)
			}
			continue
		}

		if !dropped {
			out = make([]models.Message, 0, len(messages))
			out = append(out, messages[:i]...)
			dropped = true
		}
	}

	if !dropped {
		return messages
	}
	return out
}

func findFirstUserIndex(messages []models.Message) int {
	for i, m := range messages {
		if m.Role == models.RoleUser {
			return i
		}
	}
	return len(messages)
}

func toSet(names []string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// estimateTokens is a simple character-to-token ratio. The contract only
// requires monotonicity (longer content -> more tokens), not an exact
// tokenizer.
func estimateTokens(content string) int {
	const charsPerToken = 4
	n := len(content) / charsPerToken
	if n == 0 && content != "" {
		n = 1
	}
	return n
}
