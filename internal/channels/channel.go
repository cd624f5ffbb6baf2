// Package channels defines the minimal inbound-framing contract channel
// connectors implement, and a registry for wiring multiple connectors into
// the gateway's router.
package channels

import (
	"context"

	"github.com/agentmesh/gateway/pkg/models"
)

// Inbound is one message a channel adapter observed, already mapped onto
// the gateway's routing inputs.
type Inbound struct {
	Channel   string
	AccountID string
	Peer      models.Peer
	Message   models.Message
}

// Adapter is the minimal contract a channel connector implements: report
// its type, start consuming updates, and emit inbound messages on a
// channel. Outbound delivery and presence are out of scope per spec.md's
// channel Non-goals — these connectors only turn provider updates into
// routable inbound frames.
type Adapter interface {
	Type() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Inbound() <-chan Inbound
}

// Registry holds the active adapter set keyed by channel type.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter, keyed by its Type().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Type()] = a
}

// Get returns the adapter for a channel type, if registered.
func (r *Registry) Get(channelType string) (Adapter, bool) {
	a, ok := r.adapters[channelType]
	return a, ok
}

// All returns every registered adapter, for callers that fan out a
// goroutine per adapter to drain its Inbound channel.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// StartAll starts every registered adapter, stopping any already-started
// adapters and returning the first error on failure.
func (r *Registry) StartAll(ctx context.Context) error {
	started := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if err := a.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop(ctx)
			}
			return err
		}
		started = append(started, a)
	}
	return nil
}

// StopAll stops every registered adapter, collecting (not short-circuiting
// on) errors.
func (r *Registry) StopAll(ctx context.Context) []error {
	var errs []error
	for _, a := range r.adapters {
		if err := a.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
