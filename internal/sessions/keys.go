package sessions

import (
	"strings"

	"github.com/agentmesh/gateway/pkg/models"
)

// normalize lowercases and trims. BuildSessionKey applies it to the whole
// joined key, so the peer ID is lowercased along with every other field.
func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// KeyParams are the inputs to the bit-exact session key derivation in
// spec.md §6: lower(join("|", [agentId, channel, accountId, peer.kind?,
// peer.id?, dmScope?])).
type KeyParams struct {
	AgentID       string
	Channel       string
	AccountID     string
	Peer          *models.Peer
	DMScope       string
	IdentityLinks map[string][]string
}

// ResolveLinkedPeerID applies the IdentityLinks alias map to a peer ID,
// returning the canonical alias if one exists. Candidates are tried in a
// fixed order (channel-scoped first, then bare) and the map is walked with
// first-seen ordering so that cycles in links resolve to the first alias
// encountered rather than looping.
func ResolveLinkedPeerID(links map[string][]string, channel, peerID string) string {
	if len(links) == 0 || peerID == "" {
		return peerID
	}
	candidates := []string{channel + ":" + peerID, peerID}
	for _, candidate := range candidates {
		seen := make(map[string]bool, len(links))
		for canonical, aliases := range links {
			if seen[canonical] {
				continue
			}
			seen[canonical] = true
			for _, alias := range aliases {
				if alias == candidate {
					return canonical
				}
			}
		}
	}
	return peerID
}

// BuildSessionKey derives the stable, lowercased session key for a route:
// lower(join("|", [agentId, channel, accountId, peer.kind?, peer.id?,
// dmScope?])). A missing accountId or dmScope collapses to an empty field,
// not a sentinel word — callers (the router) are responsible for applying
// any default before calling this, per spec.md §8's S1/S2 scenarios.
func BuildSessionKey(p KeyParams) string {
	peerKind, peerID := "", ""
	if p.Peer != nil {
		peerKind = string(p.Peer.Kind)
		peerID = ResolveLinkedPeerID(p.IdentityLinks, p.Channel, p.Peer.ID)
	}

	parts := []string{p.AgentID, p.Channel, p.AccountID, peerKind, peerID, p.DMScope}
	return normalize(strings.Join(parts, "|"))
}

// SafeFileName replaces characters that are unsafe in a filename, matching
// the transcript path derivation rule in spec.md §4.5/§6.
func SafeFileName(sessionKey string) string {
	var b strings.Builder
	for _, r := range sessionKey {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
