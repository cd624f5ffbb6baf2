package models

// MatchedBy names which binding class resolved a route, in precedence
// order (first hit wins).
type MatchedBy string

const (
	MatchedByPeer       MatchedBy = "binding.peer"
	MatchedByPeerParent MatchedBy = "binding.peer.parent"
	MatchedByGuild      MatchedBy = "binding.guild"
	MatchedByTeam       MatchedBy = "binding.team"
	MatchedByAccount    MatchedBy = "binding.account"
	MatchedByChannel    MatchedBy = "binding.channel"
	MatchedByDefault    MatchedBy = "default"
)

// BindingMatch is the shape a BindingRule matches against.
type BindingMatch struct {
	Channel   string `yaml:"channel" json:"channel"`
	AccountID string `yaml:"accountId,omitempty" json:"accountId,omitempty"`
	Peer      *Peer  `yaml:"peer,omitempty" json:"peer,omitempty"`
	GuildID   string `yaml:"guildId,omitempty" json:"guildId,omitempty"`
	TeamID    string `yaml:"teamId,omitempty" json:"teamId,omitempty"`
}

// BindingRule maps a route shape to an agent identity. Declaration order is
// significant only within the same match class.
type BindingRule struct {
	AgentID string       `yaml:"agentId" json:"agentId"`
	Match   BindingMatch `yaml:"match" json:"match"`
}

// RouteResult is the outcome of resolving a route.
type RouteResult struct {
	AgentID        string    `json:"agentId"`
	Channel        string    `json:"channel"`
	AccountID      string    `json:"accountId"`
	SessionKey     string    `json:"sessionKey"`
	MainSessionKey string    `json:"mainSessionKey"`
	MatchedBy      MatchedBy `json:"matchedBy"`
}
