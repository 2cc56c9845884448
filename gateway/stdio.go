package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/decepticon-ai/decepticon/exec"
)

// stdioInvoker speaks the stdio transport: one server process per call, the
// request JSON written to stdin, the response envelope read from stdout. The
// response is the last JSON object on stdout so servers may freely log
// progress lines before it.
type stdioInvoker struct {
	runner func(ctx context.Context, spec exec.Spec) (*exec.Output, error)
}

func (s *stdioInvoker) invoke(ctx context.Context, srv Server, req request) (*envelope, error) {
	stdin, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode tool request: %w", err)
	}

	out, err := s.runner(ctx, exec.Spec{
		Command: srv.Command,
		Args:    srv.Args,
		Stdin:   stdin,
	})
	if err != nil {
		return nil, err
	}

	line := lastJSONLine(out.Stdout)
	if line == nil {
		if out.ExitCode != 0 {
			return nil, fmt.Errorf("tool server %s exited with code %d: %s",
				srv.Name, out.ExitCode, bytes.TrimSpace(out.Stderr))
		}
		return nil, fmt.Errorf("%w: no response on stdout", errMalformed)
	}
	return decodeEnvelope(line)
}

// lastJSONLine returns the last non-empty line of output that looks like a
// JSON object, or nil when there is none.
func lastJSONLine(stdout []byte) []byte {
	lines := bytes.Split(stdout, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) > 0 && line[0] == '{' {
			return line
		}
	}
	return nil
}
