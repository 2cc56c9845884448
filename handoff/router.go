package handoff

import (
	"errors"
	"fmt"

	"github.com/decepticon-ai/decepticon/agent"
)

// VerdictKind discriminates the applied routing outcomes.
type VerdictKind string

const (
	// VerdictDispatchTool instructs the engine to dispatch a tool call and
	// return control to the current agent.
	VerdictDispatchTool VerdictKind = "dispatch_tool"

	// VerdictContinue keeps the active turn with the current agent.
	VerdictContinue VerdictKind = "continue"

	// VerdictSwitch transfers the active turn to Target.
	VerdictSwitch VerdictKind = "switch"

	// VerdictTerminate ends the session with Answer as the result.
	VerdictTerminate VerdictKind = "terminate"
)

// Verdict is the routing decision applied by the engine.
type Verdict struct {
	Kind VerdictKind

	// Target is the agent receiving the turn for VerdictSwitch.
	Target string

	// Rationale is the proposer's stated reason for a handoff.
	Rationale string

	// Note, when non-empty, describes a routing correction: an invalid
	// proposal the router repaired by falling back. The engine records it as
	// a routing_error event. Corrections are never fatal.
	Note string

	// Rejected is the proposed target that failed validation, when the
	// correction stems from a handoff proposal.
	Rejected string

	// Answer carries the final answer for VerdictTerminate, or the answer
	// text attached as context when an unauthorized final answer bounces back
	// to the fallback agent.
	Answer string
}

// Usage is the per-session accounting the router needs to stay deterministic
// while remaining stateless. The engine owns and passes it in.
type Usage struct {
	// Turns maps agent name to turns taken so far in the session.
	Turns map[string]int

	// Turn is the 1-based global turn number being routed.
	Turn int

	// AnswerBounces counts how many unauthorized final answers have already
	// been bounced back to the fallback agent.
	AnswerBounces int
}

// ErrAnswerBounceLimit is returned when an unauthorized final answer has
// bounced back to the fallback agent more times than allowed. The engine
// treats it as fatal for the session.
var ErrAnswerBounceLimit = errors.New("answer bounce limit exceeded")

// Router validates raw agent decisions against the roster and maps them to
// applied verdicts. It is deterministic, side-effect free and safe for
// concurrent use.
type Router struct {
	roster   *Roster
	fallback string
	// maxAnswerBounces bounds how often a final answer from an agent without
	// terminate authority is redirected to the fallback before the session is
	// declared failed.
	maxAnswerBounces int
}

// NewRouter creates a router over the roster. fallback names the agent that
// receives control when a proposal is invalid; it must exist in the roster.
func NewRouter(roster *Roster, fallback string, maxAnswerBounces int) (*Router, error) {
	if _, ok := roster.Entry(fallback); !ok {
		return nil, fmt.Errorf("router: fallback agent %q not in roster", fallback)
	}
	if maxAnswerBounces <= 0 {
		maxAnswerBounces = 2
	}
	return &Router{
		roster:           roster,
		fallback:         fallback,
		maxAnswerBounces: maxAnswerBounces,
	}, nil
}

// Fallback returns the agent that receives control on routing corrections.
func (r *Router) Fallback() string {
	return r.fallback
}

// Route maps a raw decision from the current agent to a verdict.
//
// Tool invocations pass through: tools never change the active agent.
// Handoffs are validated; invalid ones are corrected to the fallback agent
// with a Note, never an error. Final answers terminate only when the current
// agent holds terminate authority; otherwise they bounce to the fallback with
// the answer attached, bounded by the answer bounce limit.
func (r *Router) Route(d agent.Decision, current string, usage Usage) (Verdict, error) {
	switch d.Kind {
	case agent.DecisionToolInvocation:
		return Verdict{Kind: VerdictDispatchTool}, nil

	case agent.DecisionHandoff:
		return r.routeHandoff(d, current, usage), nil

	case agent.DecisionFinalAnswer:
		return r.routeAnswer(d, current, usage)

	default:
		// Unknown kinds are a proposer bug; treat like an invalid handoff and
		// return control to the fallback.
		return r.correct(current, fmt.Sprintf("unroutable decision kind %q", d.Kind), ""), nil
	}
}

func (r *Router) routeHandoff(d agent.Decision, current string, usage Usage) Verdict {
	target, ok := r.roster.Entry(d.Target)
	if !ok {
		return r.correct(current, fmt.Sprintf("handoff to unknown agent %q", d.Target), d.Target)
	}
	if !r.roster.mayTarget(current, d.Target) {
		return r.correct(current, fmt.Sprintf("agent %s may not hand off to %s", current, d.Target), d.Target)
	}
	if target.Quota > 0 && usage.Turns[d.Target] >= target.Quota {
		return r.correct(current, fmt.Sprintf("agent %s exceeded turn quota (%d)", d.Target, target.Quota), d.Target)
	}
	if allowed, err := target.acceptsFrom(current, usage.Turn); err != nil {
		return r.correct(current, err.Error(), d.Target)
	} else if !allowed {
		return r.correct(current, fmt.Sprintf("guard rejected handoff %s -> %s", current, d.Target), d.Target)
	}
	return Verdict{Kind: VerdictSwitch, Target: d.Target, Rationale: d.Rationale}
}

func (r *Router) routeAnswer(d agent.Decision, current string, usage Usage) (Verdict, error) {
	entry, ok := r.roster.Entry(current)
	if ok && entry.CanTerminate {
		return Verdict{Kind: VerdictTerminate, Answer: d.Answer}, nil
	}
	if usage.AnswerBounces >= r.maxAnswerBounces {
		return Verdict{}, fmt.Errorf("%w: %d bounces from %s", ErrAnswerBounceLimit, usage.AnswerBounces, current)
	}
	v := r.correct(current, fmt.Sprintf("agent %s is not authorized to end the session", current), "")
	v.Answer = d.Answer
	return v, nil
}

// correct builds the fallback verdict for an invalid proposal. When the
// current agent already is the fallback, control simply stays put.
func (r *Router) correct(current, note, rejected string) Verdict {
	if current == r.fallback {
		return Verdict{Kind: VerdictContinue, Note: note, Rejected: rejected}
	}
	return Verdict{Kind: VerdictSwitch, Target: r.fallback, Note: note, Rejected: rejected}
}
