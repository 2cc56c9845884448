// Package agent defines the Agent Unit abstraction: one AI-driven role
// participating in a red-team operation.
//
// An agent never mutates shared session state. Its single capability is
// Decide: given its own working memory and the turn context, propose the next
// action: invoke a tool, hand the turn to a peer, or emit a final answer.
// The orchestration engine applies proposals; agents only propose.
//
// The decision-making capability itself (typically an LLM call) is external
// and injected as a Decider.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/decepticon-ai/decepticon/session"
)

// Role identifies an agent's function within the swarm.
type Role string

const (
	// RolePlanner coordinates the operation and delegates to specialists.
	RolePlanner Role = "planner"

	// RoleReconnaissance performs information gathering against targets.
	RoleReconnaissance Role = "reconnaissance"

	// RoleInitialAccess attempts to establish a foothold on targets.
	RoleInitialAccess Role = "initial_access"

	// RoleSummary compiles findings into the operation report.
	RoleSummary Role = "summary"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is a recognized value.
func (r Role) IsValid() bool {
	switch r {
	case RolePlanner, RoleReconnaissance, RoleInitialAccess, RoleSummary:
		return true
	default:
		return false
	}
}

// State is an agent's mutable working memory: the conversation history
// visible to it plus agent-local scratch data. It is owned by its Agent Unit;
// the engine passes it by reference for the duration of the agent's turn.
type State struct {
	// Owner is the agent name this state belongs to. It drives event
	// visibility filtering in Observe.
	Owner string

	// History is the ordered subsequence of session events visible to the
	// owning agent.
	History []session.Event

	// Scratch holds agent-local working data, such as the current plan.
	Scratch map[string]any
}

// NewState creates empty working memory for the named agent.
func NewState(owner string) *State {
	return &State{
		Owner:   owner,
		Scratch: make(map[string]any),
	}
}

// Observe folds a session event into the agent's history if it is visible to
// the owning agent. Non-visible events (another agent's tool traffic) are
// ignored.
func (s *State) Observe(ev session.Event) {
	if ev.VisibleTo(s.Owner) {
		s.History = append(s.History, ev)
	}
}

// LastToolResult returns the most recent tool result visible to the agent,
// or nil if there is none.
func (s *State) LastToolResult() *session.Event {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Type == session.EventToolResult {
			ev := s.History[i]
			return &ev
		}
	}
	return nil
}

// TurnContext carries the session-level context for one turn.
type TurnContext struct {
	// SessionID identifies the running session.
	SessionID string

	// Task is the operator-supplied objective for the whole session.
	Task string

	// Turn is the 1-based global turn number.
	Turn int
}

// Decider is the injected decision-making capability behind an Agent Unit.
// It is the only operation in the system that may block awaiting an external
// model; implementations should honor context cancellation and deadlines.
type Decider interface {
	Decide(ctx context.Context, state *State, turn TurnContext) (Decision, error)
}

// DecideFunc adapts a function to the Decider interface.
type DecideFunc func(ctx context.Context, state *State, turn TurnContext) (Decision, error)

// Decide implements Decider.
func (f DecideFunc) Decide(ctx context.Context, state *State, turn TurnContext) (Decision, error) {
	return f(ctx, state, turn)
}

// Unit is the interface all agents implement. The engine treats every role
// uniformly through Decide.
type Unit interface {
	// Name returns the unique identifier for this agent within the roster.
	Name() string

	// Role returns the agent's function within the swarm.
	Role() Role

	// Decide proposes the next action. It has no side effects on shared
	// session state. Failures are reported as a *DecisionError.
	Decide(ctx context.Context, state *State, turn TurnContext) (Decision, error)
}

// Sentinel errors for decision failures.
var (
	// ErrDeciderUnavailable indicates the decision capability could not be
	// reached.
	ErrDeciderUnavailable = errors.New("decider unavailable")

	// ErrMalformedDecision indicates the decision capability returned output
	// that does not map to a valid proposal.
	ErrMalformedDecision = errors.New("malformed decision")
)

// DecisionError reports an Agent Unit's failure to produce a valid decision.
// The engine treats it as a retryable turn failure up to a bounded count.
type DecisionError struct {
	// Agent is the name of the failing agent.
	Agent string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *DecisionError) Error() string {
	return fmt.Sprintf("agent %s: decision failed: %v", e.Agent, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecisionError) Unwrap() error {
	return e.Err
}
