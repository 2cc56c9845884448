package session

import (
	"fmt"
)

// Snapshot is the result of folding a session's event log: the reconstructed
// session plus the conversation history visible to each agent that appears in
// the log. Folding the same log always yields an identical snapshot.
type Snapshot struct {
	Session Session

	// Histories maps agent name to the ordered subsequence of events visible
	// to that agent, per Event.VisibleTo.
	Histories map[string][]Event
}

// Replay reconstructs a session from its event log.
//
// The fold is pure: it never consults external state and has no side effects.
// The log is verified first; a broken sequence yields an error wrapping
// ErrStoreCorruption and no snapshot.
//
// initialAgent is the agent that held the first turn (the log records only
// transfers, not the starting pointer).
func Replay(sessionID, initialAgent string, events []Event) (*Snapshot, error) {
	if err := VerifySequence(events); err != nil {
		return nil, fmt.Errorf("replay %s: %w", sessionID, err)
	}

	snap := &Snapshot{
		Session: Session{
			ID:          sessionID,
			Events:      events,
			ActiveAgent: initialAgent,
			Status:      StatusRunning,
		},
		Histories: make(map[string][]Event),
	}
	if len(events) > 0 {
		snap.Session.CreatedAt = events[0].Timestamp
	}

	// Collect the participants first so every agent's history includes shared
	// events that precede its first turn.
	if initialAgent != "" {
		snap.Histories[initialAgent] = nil
	}
	for _, ev := range events {
		for _, name := range []string{ev.Agent, ev.Target} {
			if name != "" {
				snap.Histories[name] = nil
			}
		}
	}

	observe := func(ev Event) {
		for name := range snap.Histories {
			if ev.VisibleTo(name) {
				snap.Histories[name] = append(snap.Histories[name], ev)
			}
		}
	}

	for _, ev := range events {
		if snap.Session.Status.IsTerminal() {
			return nil, fmt.Errorf("replay %s: %w: event seq %d follows termination",
				sessionID, ErrStoreCorruption, ev.Seq)
		}
		observe(ev)

		switch ev.Type {
		case EventHandoff:
			snap.Session.ActiveAgent = ev.Target
		case EventTerminated:
			snap.Session.Status = ev.Status
			switch ev.Status {
			case StatusCompleted:
				snap.Session.Result = ev.Content
			case StatusFailed, StatusCancelled:
				snap.Session.FailReason = ev.Content
			}
		}
	}

	return snap, nil
}
