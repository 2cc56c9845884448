package agent

import "fmt"

// DecisionKind discriminates the raw decision variants an agent can produce.
type DecisionKind string

const (
	// DecisionToolInvocation proposes invoking a named tool. Tool calls never
	// change the active agent; control returns to the proposer.
	DecisionToolInvocation DecisionKind = "tool_invocation"

	// DecisionHandoff proposes transferring the active turn to a peer.
	DecisionHandoff DecisionKind = "handoff"

	// DecisionFinalAnswer proposes ending the session with an answer.
	DecisionFinalAnswer DecisionKind = "final_answer"
)

// Decision is the raw proposal produced by an Agent Unit's Decide. Exactly
// one variant is populated, selected by Kind. The router validates and maps
// it to an applied verdict; the decision itself carries no authority.
type Decision struct {
	Kind DecisionKind

	// Tool and Args are set for DecisionToolInvocation.
	Tool string
	Args map[string]any

	// Target and Rationale are set for DecisionHandoff.
	Target    string
	Rationale string

	// Answer is set for DecisionFinalAnswer.
	Answer string
}

// ToolInvocation builds a tool invocation proposal.
func ToolInvocation(tool string, args map[string]any) Decision {
	return Decision{Kind: DecisionToolInvocation, Tool: tool, Args: args}
}

// HandoffTo builds a handoff proposal.
func HandoffTo(target, rationale string) Decision {
	return Decision{Kind: DecisionHandoff, Target: target, Rationale: rationale}
}

// FinalAnswer builds a final answer proposal.
func FinalAnswer(text string) Decision {
	return Decision{Kind: DecisionFinalAnswer, Answer: text}
}

// Validate checks that the decision is structurally sound: a recognized kind
// with its required variant fields populated.
func (d Decision) Validate() error {
	switch d.Kind {
	case DecisionToolInvocation:
		if d.Tool == "" {
			return fmt.Errorf("%w: tool invocation without tool name", ErrMalformedDecision)
		}
	case DecisionHandoff:
		if d.Target == "" {
			return fmt.Errorf("%w: handoff without target", ErrMalformedDecision)
		}
	case DecisionFinalAnswer:
		if d.Answer == "" {
			return fmt.Errorf("%w: final answer without text", ErrMalformedDecision)
		}
	default:
		return fmt.Errorf("%w: unknown decision kind %q", ErrMalformedDecision, d.Kind)
	}
	return nil
}
