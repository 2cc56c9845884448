// Package exec runs tool-server processes with context-aware timeouts.
//
// It is the process-spawning layer under the stdio tool transport: the
// gateway serializes a tool request, hands it to Run as stdin, and parses the
// process output as the wire response.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Spec describes one process invocation.
type Spec struct {
	// Command is the name or path of the binary to run (required).
	Command string

	// Args are the command-line arguments.
	Args []string

	// Dir is the working directory. Empty means the caller's directory.
	Dir string

	// Env holds environment variables in "KEY=value" form. Nil inherits the
	// parent environment.
	Env []string

	// Stdin is written to the process's standard input before reading output.
	Stdin []byte

	// Timeout bounds the process lifetime. Zero relies on the caller's
	// context alone.
	Timeout time.Duration
}

// Output captures a finished (or killed) process.
type Output struct {
	// Stdout is the captured standard output.
	Stdout []byte

	// Stderr is the captured standard error.
	Stderr []byte

	// ExitCode is the process exit code; zero on success.
	ExitCode int

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// ErrTimeout indicates the process was killed because it exceeded the
// configured timeout.
var ErrTimeout = errors.New("process timed out")

// Run executes the process described by spec and captures its output.
//
// A non-zero exit code is not an error: Output is returned with ExitCode set
// and the caller decides how to treat it. Run returns an error only when the
// process could not run at all (binary missing, permission denied), was
// cancelled, or hit its timeout; in the timeout case the error wraps
// ErrTimeout so the gateway can map it onto a timeout tool result.
func Run(ctx context.Context, spec Spec) (*Output, error) {
	if spec.Command == "" {
		return nil, errors.New("exec: command is required")
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(spec.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	start := time.Now()
	err := cmd.Run()

	out := &Output{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return out, fmt.Errorf("exec %s: %w", spec.Command, ErrTimeout)
		case errors.Is(ctx.Err(), context.Canceled):
			return out, fmt.Errorf("exec %s: cancelled", spec.Command)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("exec %s: %w", spec.Command, err)
	}
	return out, nil
}

// Resolve returns the full path of a binary on the system PATH, or an error
// if it cannot be found. Callers that spawn stdio tool servers can use it to
// fail fast on a missing command before any session starts.
func Resolve(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("exec: binary %q not found in PATH: %w", name, err)
	}
	return path, nil
}
