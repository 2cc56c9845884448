// Package session defines the durable event model for red-team operation runs.
//
// A Session is one complete run of the orchestration engine from task start to
// terminal state. Its only durable representation is an append-only log of
// Events, totally ordered by sequence number. Everything else (the active
// agent pointer, per-agent conversation views, terminal status) is
// reconstructed by folding the log (see Replay). The in-memory Session is a
// cache of the log, never the other way around.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	// StatusRunning indicates the session is actively executing turns.
	StatusRunning Status = "running"

	// StatusCompleted indicates the session terminated with a final answer.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the session terminated due to an unrecoverable error.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the session was cancelled by an external request.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// EventType identifies the kind of state transition an Event records.
type EventType string

const (
	// EventAgentMessage records text produced by an agent: a final answer,
	// findings handed back to the planner, or other narrative output.
	EventAgentMessage EventType = "agent_message"

	// EventToolCall records a tool invocation request issued by an agent.
	EventToolCall EventType = "tool_call"

	// EventToolResult records the outcome of a tool invocation. It always
	// follows the matching EventToolCall before the issuing agent's turn
	// resumes, correlated by CallID.
	EventToolResult EventType = "tool_result"

	// EventHandoff records a transfer of the active turn to another agent.
	EventHandoff EventType = "handoff"

	// EventRoutingError records a handoff proposal that was rejected and
	// corrected by the router. It never changes the active agent by itself.
	EventRoutingError EventType = "routing_error"

	// EventTerminated records the end of the session. It is always the last
	// event in a session's log.
	EventTerminated EventType = "session_terminated"
)

// Event is an immutable record appended to a session's log.
//
// Seq is assigned by the orchestration engine and is strictly increasing and
// gap-free within one session, starting at 1. Which optional fields are set
// depends on Type:
//
//	agent_message      Content
//	tool_call          Tool, Args, CallID
//	tool_result        Tool, CallID, Success, Content (payload) or Error
//	handoff            Target, Content (rationale)
//	routing_error      Target (the rejected target), Content (detail)
//	session_terminated Status, Content (result or failure reason)
type Event struct {
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Agent     string         `json:"agent"`
	Type      EventType      `json:"type"`
	Content   string         `json:"content,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Success   bool           `json:"success,omitempty"`
	Error     string         `json:"error,omitempty"`
	Target    string         `json:"target,omitempty"`
	Status    Status         `json:"status,omitempty"`
}

// VisibleTo reports whether the event belongs in the conversation history of
// the named agent. Messages, handoffs, routing corrections and termination are
// shared context for the whole swarm; tool traffic is visible only to the
// agent that issued the call.
func (e Event) VisibleTo(agentName string) bool {
	switch e.Type {
	case EventToolCall, EventToolResult:
		return e.Agent == agentName
	default:
		return true
	}
}

// Session is the in-memory view of one red-team operation run.
type Session struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Events      []Event   `json:"events"`
	ActiveAgent string    `json:"active_agent"`
	Status      Status    `json:"status"`
	Result      string    `json:"result,omitempty"`
	FailReason  string    `json:"fail_reason,omitempty"`
}

// Summary is a lightweight listing entry for a stored session.
type Summary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	EventCount int64     `json:"event_count"`
	Status     Status    `json:"status"`
}

// Sentinel errors returned by Store implementations.
var (
	// ErrSessionNotFound indicates no log exists for the requested session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreCorruption indicates a session log with a broken sequence:
	// a gap, a duplicate, or a non-increasing sequence number. A corrupted
	// log is never silently repaired and must not be replayed.
	ErrStoreCorruption = errors.New("session store corruption")

	// ErrOutOfOrderAppend indicates an append whose sequence number does not
	// directly follow the last committed event for the session.
	ErrOutOfOrderAppend = errors.New("out-of-order append")
)

// Store is the durable, append-only record of session state transitions.
//
// Append is the only mutation primitive. Implementations must support
// concurrent appends from independent sessions; callers may assume exclusive
// access only to their own session's sequence.
type Store interface {
	// Append durably writes one event to the session's log. The event's Seq
	// must directly follow the last committed Seq (or be 1 for a new log);
	// otherwise ErrOutOfOrderAppend is returned and nothing is written.
	Append(ctx context.Context, sessionID string, ev Event) error

	// Load returns the session's events in strict sequence order. A gap or
	// duplicate sequence number yields an error wrapping ErrStoreCorruption.
	Load(ctx context.Context, sessionID string) ([]Event, error)

	// List returns summaries for all sessions known to the store.
	List(ctx context.Context) ([]Summary, error)
}

// VerifySequence checks that events are gap-free and strictly increasing from 1.
// It returns an error wrapping ErrStoreCorruption on the first violation.
func VerifySequence(events []Event) error {
	for i, ev := range events {
		want := int64(i + 1)
		if ev.Seq != want {
			return fmt.Errorf("%w: event %d has seq %d, want %d", ErrStoreCorruption, i, ev.Seq, want)
		}
	}
	return nil
}
