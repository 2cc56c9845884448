package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, Status("bogus").IsTerminal())
}

func TestEventVisibleTo(t *testing.T) {
	t.Run("tool traffic is private to the issuer", func(t *testing.T) {
		call := Event{Agent: "reconnaissance", Type: EventToolCall, Tool: "nmap"}
		result := Event{Agent: "reconnaissance", Type: EventToolResult, Tool: "nmap"}

		assert.True(t, call.VisibleTo("reconnaissance"))
		assert.True(t, result.VisibleTo("reconnaissance"))
		assert.False(t, call.VisibleTo("planner"))
		assert.False(t, result.VisibleTo("planner"))
	})

	t.Run("everything else is shared", func(t *testing.T) {
		shared := []Event{
			{Agent: "planner", Type: EventAgentMessage},
			{Agent: "planner", Type: EventHandoff, Target: "reconnaissance"},
			{Agent: "planner", Type: EventRoutingError, Target: "ghost"},
			{Agent: "summary", Type: EventTerminated, Status: StatusCompleted},
		}
		for _, ev := range shared {
			assert.True(t, ev.VisibleTo("planner"), "type %s", ev.Type)
			assert.True(t, ev.VisibleTo("initial_access"), "type %s", ev.Type)
		}
	})
}

func TestVerifySequence(t *testing.T) {
	t.Run("empty log is valid", func(t *testing.T) {
		require.NoError(t, VerifySequence(nil))
	})

	t.Run("gap-free from one", func(t *testing.T) {
		events := []Event{{Seq: 1}, {Seq: 2}, {Seq: 3}}
		require.NoError(t, VerifySequence(events))
	})

	t.Run("does not start at one", func(t *testing.T) {
		err := VerifySequence([]Event{{Seq: 2}})
		require.ErrorIs(t, err, ErrStoreCorruption)
	})

	t.Run("gap", func(t *testing.T) {
		err := VerifySequence([]Event{{Seq: 1}, {Seq: 3}})
		require.ErrorIs(t, err, ErrStoreCorruption)
	})

	t.Run("duplicate", func(t *testing.T) {
		err := VerifySequence([]Event{{Seq: 1}, {Seq: 1}})
		require.ErrorIs(t, err, ErrStoreCorruption)
	})
}

// scenarioEvents is the canonical log of a small reconnaissance run: the
// planner hands off, the specialist scans and reports back, and the planner
// closes with a final answer.
func scenarioEvents(t *testing.T) []Event {
	t.Helper()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	events := []Event{
		{Agent: "planner", Type: EventHandoff, Target: "reconnaissance", Content: "scan the target first"},
		{Agent: "reconnaissance", Type: EventToolCall, Tool: "nmap", Args: map[string]any{"target": "10.0.0.5"}, CallID: "c1"},
		{Agent: "reconnaissance", Type: EventToolResult, Tool: "nmap", CallID: "c1", Success: true, Content: "22/tcp open ssh"},
		{Agent: "reconnaissance", Type: EventHandoff, Target: "planner", Content: "scan complete"},
		{Agent: "planner", Type: EventHandoff, Target: "summary", Content: "compile the report"},
		{Agent: "summary", Type: EventAgentMessage, Content: "one host, ssh exposed"},
		{Agent: "summary", Type: EventTerminated, Status: StatusCompleted, Content: "one host, ssh exposed"},
	}
	for i := range events {
		events[i].Seq = int64(i + 1)
		events[i].Timestamp = base.Add(time.Duration(i) * time.Second)
	}
	return events
}
