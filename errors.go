package decepticon

import (
	"errors"
	"fmt"
)

// Sentinel errors for common façade error conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrSessionNotFound indicates the requested session is neither running
	// nor present in the session store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAgentNotFound indicates a configured agent has no registered
	// decision capability.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInvalidConfig indicates the provided configuration is invalid or
	// incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSessionFinished indicates an operation that requires a running
	// session was applied to a finished one.
	ErrSessionFinished = errors.New("session already finished")
)

// Error kinds categorize errors by their type.
const (
	// KindDecision represents an agent's failure to produce a valid decision
	// after bounded retries.
	KindDecision = "decision"

	// KindTool represents tool invocation failures: timeouts, transport
	// faults, malformed responses.
	KindTool = "tool"

	// KindRouting represents handoff routing failures.
	KindRouting = "routing"

	// KindStoreCorruption represents a broken session event sequence. A
	// corrupted session is unusable and must not be replayed.
	KindStoreCorruption = "store_corruption"

	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"

	// KindNotFound represents errors where a resource was not found.
	KindNotFound = "not_found"

	// KindCancelled represents cooperative cancellation. It is a clean
	// terminal state, not a fault.
	KindCancelled = "cancelled"

	// KindInternal represents internal orchestration errors.
	KindInternal = "internal"
)

// Error is a structured error that wraps underlying errors with the
// operation that failed and the category of failure. Callers see kinds and
// human-readable reasons, never internal retry counts or transport detail.
//
// Error implements the error interface and supports unwrapping, making it
// compatible with errors.Is() and errors.As().
type Error struct {
	// Op is the operation that failed (e.g., "Operator.StartSession").
	Op string

	// Kind categorizes the error (e.g., KindNotFound, KindStoreCorruption).
	Kind string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decepticon: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("decepticon: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind (and op when the target sets one), or
// delegates to the underlying error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			return t.Op == "" || e.Op == t.Op
		}
	}
	return errors.Is(e.Err, target)
}

// newError builds a structured façade error.
func newError(op, kind string, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
