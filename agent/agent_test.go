package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decepticon-ai/decepticon/session"
)

func TestRoleIsValid(t *testing.T) {
	for _, role := range []Role{RolePlanner, RoleReconnaissance, RoleInitialAccess, RoleSummary} {
		assert.True(t, role.IsValid(), "role %s", role)
	}
	assert.False(t, Role("exfiltration").IsValid())
	assert.False(t, Role("").IsValid())
}

func TestStateObserve(t *testing.T) {
	state := NewState("planner")

	state.Observe(session.Event{Seq: 1, Agent: "planner", Type: session.EventHandoff, Target: "reconnaissance"})
	state.Observe(session.Event{Seq: 2, Agent: "reconnaissance", Type: session.EventToolCall, Tool: "nmap"})
	state.Observe(session.Event{Seq: 3, Agent: "reconnaissance", Type: session.EventToolResult, Tool: "nmap", Success: true})
	state.Observe(session.Event{Seq: 4, Agent: "reconnaissance", Type: session.EventHandoff, Target: "planner"})

	// Another agent's tool traffic is filtered out.
	require.Len(t, state.History, 2)
	assert.Equal(t, int64(1), state.History[0].Seq)
	assert.Equal(t, int64(4), state.History[1].Seq)
}

func TestStateLastToolResult(t *testing.T) {
	state := NewState("reconnaissance")
	assert.Nil(t, state.LastToolResult())

	state.Observe(session.Event{Seq: 1, Agent: "reconnaissance", Type: session.EventToolResult, Tool: "nmap", Content: "first"})
	state.Observe(session.Event{Seq: 2, Agent: "reconnaissance", Type: session.EventAgentMessage})
	state.Observe(session.Event{Seq: 3, Agent: "reconnaissance", Type: session.EventToolResult, Tool: "nmap", Content: "second"})

	res := state.LastToolResult()
	require.NotNil(t, res)
	assert.Equal(t, "second", res.Content)
}

func TestDecisionValidate(t *testing.T) {
	t.Run("valid variants", func(t *testing.T) {
		require.NoError(t, ToolInvocation("nmap", map[string]any{"target": "10.0.0.5"}).Validate())
		require.NoError(t, HandoffTo("planner", "done scanning").Validate())
		require.NoError(t, FinalAnswer("report text").Validate())
	})

	t.Run("missing variant fields", func(t *testing.T) {
		cases := []Decision{
			{Kind: DecisionToolInvocation},
			{Kind: DecisionHandoff},
			{Kind: DecisionFinalAnswer},
			{Kind: "unknown"},
			{},
		}
		for _, d := range cases {
			require.ErrorIs(t, d.Validate(), ErrMalformedDecision, "kind %q", d.Kind)
		}
	})
}

func TestConfigBuild(t *testing.T) {
	decider := DecideFunc(func(ctx context.Context, state *State, turn TurnContext) (Decision, error) {
		return FinalAnswer("done"), nil
	})

	t.Run("builds a working unit", func(t *testing.T) {
		unit, err := NewConfig().
			SetName("planner").
			SetRole(RolePlanner).
			SetDecider(decider).
			Build()
		require.NoError(t, err)

		assert.Equal(t, "planner", unit.Name())
		assert.Equal(t, RolePlanner, unit.Role())

		d, err := unit.Decide(context.Background(), NewState("planner"), TurnContext{Turn: 1})
		require.NoError(t, err)
		assert.Equal(t, DecisionFinalAnswer, d.Kind)
	})

	t.Run("requires name", func(t *testing.T) {
		_, err := NewConfig().SetRole(RolePlanner).SetDecider(decider).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name is required")
	})

	t.Run("requires valid role", func(t *testing.T) {
		_, err := NewConfig().SetName("x").SetRole("bogus").SetDecider(decider).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid role")
	})

	t.Run("requires decider", func(t *testing.T) {
		_, err := NewConfig().SetName("x").SetRole(RolePlanner).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decider is required")
	})
}

func TestBuiltUnitDecideErrors(t *testing.T) {
	t.Run("wraps decider failures", func(t *testing.T) {
		unit, err := NewConfig().
			SetName("planner").
			SetRole(RolePlanner).
			SetDecideFunc(func(ctx context.Context, state *State, turn TurnContext) (Decision, error) {
				return Decision{}, ErrDeciderUnavailable
			}).
			Build()
		require.NoError(t, err)

		_, err = unit.Decide(context.Background(), NewState("planner"), TurnContext{Turn: 1})
		var derr *DecisionError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, "planner", derr.Agent)
		assert.ErrorIs(t, err, ErrDeciderUnavailable)
	})

	t.Run("rejects malformed output", func(t *testing.T) {
		unit, err := NewConfig().
			SetName("planner").
			SetRole(RolePlanner).
			SetDecideFunc(func(ctx context.Context, state *State, turn TurnContext) (Decision, error) {
				return Decision{Kind: DecisionHandoff}, nil
			}).
			Build()
		require.NoError(t, err)

		_, err = unit.Decide(context.Background(), NewState("planner"), TurnContext{Turn: 1})
		require.ErrorIs(t, err, ErrMalformedDecision)

		var derr *DecisionError
		require.True(t, errors.As(err, &derr))
	})
}
