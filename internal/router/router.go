// Package router resolves (channel, account, peer, guild/team) tuples to a
// stable session key via an ordered binding hierarchy, following the
// first-match-wins, ordered-rule pattern the teacher codebase uses for LLM
// provider routing (internal/agent/routing in the reference repository),
// generalized here to the gateway's binding classes.
package router

import (
	"strings"

	"github.com/agentmesh/gateway/internal/sessions"
	"github.com/agentmesh/gateway/pkg/models"
)

// DefaultDMScope is the config-level dmScope sentinel applied when a route
// request carries none, per spec.md §8's S1/S2 scenarios (the literal
// "main" dmScope field, sourced from routing config rather than the
// per-call inputs).
const DefaultDMScope = "main"

// Config is the static routing configuration: the ordered binding rules and
// the default agent used when nothing matches.
type Config struct {
	Bindings       []models.BindingRule
	DefaultAgentID string
	DefaultDMScope string
}

// Router resolves routes against a Config.
type Router struct {
	cfg Config
}

// New builds a Router over the given config.
func New(cfg Config) *Router {
	if cfg.DefaultAgentID == "" {
		cfg.DefaultAgentID = "main"
	}
	if cfg.DefaultDMScope == "" {
		cfg.DefaultDMScope = DefaultDMScope
	}
	return &Router{cfg: cfg}
}

// Inputs bundles the optional scope fields resolveRoute accepts.
type Inputs struct {
	Channel       string
	AccountID     string
	Peer          *models.Peer
	ParentPeer    *models.Peer
	GuildID       string
	TeamID        string
	DMScope       string
	IdentityLinks map[string][]string
}

// ResolveRoute is deterministic and referentially transparent in cfg and
// in: calling it twice with the same inputs yields byte-identical results.
func (r *Router) ResolveRoute(in Inputs) models.RouteResult {
	channel := strings.ToLower(strings.TrimSpace(in.Channel))
	accountID := strings.ToLower(strings.TrimSpace(in.AccountID))

	agentID, matchedBy := r.match(channel, accountID, in)

	dmScope := in.DMScope
	if dmScope == "" {
		dmScope = r.cfg.DefaultDMScope
	}

	sessionKey := sessions.BuildSessionKey(sessions.KeyParams{
		AgentID:       agentID,
		Channel:       channel,
		AccountID:     accountID,
		Peer:          in.Peer,
		DMScope:       dmScope,
		IdentityLinks: in.IdentityLinks,
	})
	mainSessionKey := sessions.BuildSessionKey(sessions.KeyParams{
		AgentID:   agentID,
		Channel:   channel,
		AccountID: accountID,
		DMScope:   dmScope,
	})

	return models.RouteResult{
		AgentID:        agentID,
		Channel:        channel,
		AccountID:      accountID,
		SessionKey:     sessionKey,
		MainSessionKey: mainSessionKey,
		MatchedBy:      matchedBy,
	}
}

// match walks the binding classes in precedence order; within a class,
// rules are tried in declaration order and the first hit wins.
func (r *Router) match(channel, accountID string, in Inputs) (string, models.MatchedBy) {
	if in.Peer != nil {
		for _, b := range r.cfg.Bindings {
			if bindingChannel(b) == channel && peerEquals(b.Match.Peer, in.Peer) {
				return b.AgentID, models.MatchedByPeer
			}
		}
	}

	if in.ParentPeer != nil {
		for _, b := range r.cfg.Bindings {
			if bindingChannel(b) == channel && peerEquals(b.Match.Peer, in.ParentPeer) {
				return b.AgentID, models.MatchedByPeerParent
			}
		}
	}

	if in.GuildID != "" {
		for _, b := range r.cfg.Bindings {
			if bindingChannel(b) == channel && b.Match.GuildID != "" && b.Match.GuildID == in.GuildID {
				return b.AgentID, models.MatchedByGuild
			}
		}
	}

	if in.TeamID != "" {
		for _, b := range r.cfg.Bindings {
			if bindingChannel(b) == channel && b.Match.TeamID != "" && b.Match.TeamID == in.TeamID {
				return b.AgentID, models.MatchedByTeam
			}
		}
	}

	for _, b := range r.cfg.Bindings {
		if !isScopeOnly(b) {
			continue
		}
		if bindingChannel(b) != channel {
			continue
		}
		bindAccount := strings.ToLower(strings.TrimSpace(b.Match.AccountID))
		if bindAccount != "" && bindAccount != "*" && bindAccount == accountID {
			return b.AgentID, models.MatchedByAccount
		}
	}

	for _, b := range r.cfg.Bindings {
		if !isScopeOnly(b) {
			continue
		}
		if bindingChannel(b) != channel {
			continue
		}
		if strings.TrimSpace(b.Match.AccountID) == "*" {
			return b.AgentID, models.MatchedByChannel
		}
	}

	return r.cfg.DefaultAgentID, models.MatchedByDefault
}

func bindingChannel(b models.BindingRule) string {
	return strings.ToLower(strings.TrimSpace(b.Match.Channel))
}

// isScopeOnly reports whether a rule has no peer/guild/team match, making it
// eligible only for the account/channel/default classes.
func isScopeOnly(b models.BindingRule) bool {
	return b.Match.Peer == nil && b.Match.GuildID == "" && b.Match.TeamID == ""
}

func peerEquals(rulePeer, candidate *models.Peer) bool {
	if rulePeer == nil || candidate == nil {
		return false
	}
	return rulePeer.Kind == candidate.Kind && rulePeer.ID == candidate.ID
}
