package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// ApprovalDecision is the outcome of an approval check for one call.
type ApprovalDecision string

const (
	ApprovalAllowed ApprovalDecision = "allowed"
	ApprovalDenied  ApprovalDecision = "denied"
	ApprovalPending ApprovalDecision = "pending"
)

// ApprovalPolicy configures the danger set and default decision. Tools
// matching DangerousTools require an explicit approval before the first
// invocation of a given "command shape" (tool name plus raw input, see ShapeKey) in a
// session; subsequent calls with the same shape reuse the decision
// (sticky approval).
type ApprovalPolicy struct {
	DangerousTools  []string
	DefaultDecision ApprovalDecision
}

// DefaultApprovalPolicy treats nothing as dangerous by default; gateways
// opt individual tools in via configuration.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{DefaultDecision: ApprovalAllowed}
}

// ApprovalGate evaluates tool calls against a policy and remembers sticky
// decisions per (session, command shape).
type ApprovalGate struct {
	mu       sync.Mutex
	policy   ApprovalPolicy
	dangerous map[string]struct{}
	sticky   map[string]ApprovalDecision // key: sessionID + ":" + shapeHash
}

// NewApprovalGate builds a gate over the given policy.
func NewApprovalGate(policy ApprovalPolicy) *ApprovalGate {
	dangerous := make(map[string]struct{}, len(policy.DangerousTools))
	for _, t := range policy.DangerousTools {
		dangerous[t] = struct{}{}
	}
	return &ApprovalGate{
		policy:    policy,
		dangerous: dangerous,
		sticky:    make(map[string]ApprovalDecision),
	}
}

// ShapeKey derives the "command shape" key used for sticky approvals:
// tool name plus a hash of the raw input, so repeated identical
// invocations of a dangerous command reuse a prior approval.
func ShapeKey(name string, input []byte) string {
	sum := sha256.Sum256(append([]byte(name+":"), input...))
	return hex.EncodeToString(sum[:])
}

// Check returns the gate's decision for a call. Non-dangerous tools are
// always ApprovalAllowed.
func (g *ApprovalGate) Check(sessionID, toolName string, shapeKey string) ApprovalDecision {
	if _, dangerous := g.dangerous[toolName]; !dangerous {
		return ApprovalAllowed
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := sessionID + ":" + shapeKey
	if d, ok := g.sticky[key]; ok {
		return d
	}
	if g.policy.DefaultDecision == "" {
		return ApprovalPending
	}
	return g.policy.DefaultDecision
}

// Record stores a sticky decision for subsequent calls with the same
// session and command shape.
func (g *ApprovalGate) Record(sessionID, shapeKey string, decision ApprovalDecision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sticky[sessionID+":"+shapeKey] = decision
}

// WaitForDecision blocks (bounded by ctx) until a sticky decision is
// recorded for the given session/shape, for callers that requested
// approval out-of-band (e.g. an operator responding over the control
// plane) and need to resume the pending tool call.
func (g *ApprovalGate) WaitForDecision(ctx context.Context, sessionID, shapeKey string, poll time.Duration) (ApprovalDecision, error) {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	for {
		g.mu.Lock()
		d, ok := g.sticky[sessionID+":"+shapeKey]
		g.mu.Unlock()
		if ok && d != ApprovalPending {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return ApprovalPending, ctx.Err()
		case <-time.After(poll):
		}
	}
}
