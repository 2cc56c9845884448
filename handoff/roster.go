// Package handoff decides how control moves between agents.
//
// The router is deterministic and side-effect free: the same decision, roster
// and usage always produce the same verdict. Agents propose; the router
// validates proposals against the roster (target existence, per-agent turn
// quotas, optional guard expressions, terminate authority) and the engine
// applies the resulting verdict.
package handoff

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
)

// Entry describes one agent's standing in the roster.
type Entry struct {
	// Name is the agent's unique roster name.
	Name string

	// Targets lists the agents this one may hand off to.
	Targets []string

	// Quota is the maximum number of turns this agent may take in one
	// session. A proposal targeting an agent at quota is ineligible,
	// preventing unbounded ping-pong between two agents. Zero means no quota.
	Quota int

	// CanTerminate authorizes this agent to end the session with a final
	// answer. Final answers from other agents bounce back to the fallback.
	CanTerminate bool

	// Guard is an optional CEL expression that must evaluate to true for the
	// agent to accept a handoff. It is evaluated with the variables
	// source (string), target (string) and turn (int).
	Guard string

	guard cel.Program
}

// acceptsFrom evaluates the entry's guard for a proposed handoff. Entries
// without a guard accept unconditionally. Evaluation errors deny the handoff;
// the router reports them as routing corrections, never as faults.
func (e *Entry) acceptsFrom(source string, turn int) (bool, error) {
	if e.guard == nil {
		return true, nil
	}
	out, _, err := e.guard.Eval(map[string]any{
		"source": source,
		"target": e.Name,
		"turn":   turn,
	})
	if err != nil {
		return false, fmt.Errorf("guard for %s: %w", e.Name, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard for %s: expression is not boolean", e.Name)
	}
	return allowed, nil
}

// Roster is the closed set of agents eligible to participate in a session.
type Roster struct {
	entries map[string]*Entry
}

// NewRoster validates the entries and compiles their guard expressions.
// Every target must name another entry in the roster.
func NewRoster(entries []Entry) (*Roster, error) {
	env, err := cel.NewEnv(
		cel.Variable("source", cel.StringType),
		cel.Variable("target", cel.StringType),
		cel.Variable("turn", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("roster: create guard env: %w", err)
	}

	r := &Roster{entries: make(map[string]*Entry, len(entries))}
	for i := range entries {
		e := entries[i]
		if e.Name == "" {
			return nil, fmt.Errorf("roster: entry %d has no name", i)
		}
		if _, dup := r.entries[e.Name]; dup {
			return nil, fmt.Errorf("roster: duplicate agent %q", e.Name)
		}
		if e.Guard != "" {
			ast, iss := env.Compile(e.Guard)
			if iss != nil && iss.Err() != nil {
				return nil, fmt.Errorf("roster: guard for %s: %w", e.Name, iss.Err())
			}
			prog, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("roster: guard for %s: %w", e.Name, err)
			}
			e.guard = prog
		}
		r.entries[e.Name] = &e
	}

	for _, e := range r.entries {
		for _, t := range e.Targets {
			if _, ok := r.entries[t]; !ok {
				return nil, fmt.Errorf("roster: agent %s targets unknown agent %q", e.Name, t)
			}
		}
	}
	return r, nil
}

// Entry returns the roster entry for the named agent.
func (r *Roster) Entry(name string) (*Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns all roster agent names in sorted order.
func (r *Roster) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mayTarget reports whether from lists to among its handoff targets.
func (r *Roster) mayTarget(from, to string) bool {
	e, ok := r.entries[from]
	if !ok {
		return false
	}
	for _, t := range e.Targets {
		if t == to {
			return true
		}
	}
	return false
}
