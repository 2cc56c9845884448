package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decepticon-ai/decepticon/exec"
)

// fakeRunner stands in for the stdio process launcher, replaying a canned
// output or error and recording the spec it was called with.
type fakeRunner struct {
	out  *exec.Output
	err  error
	spec exec.Spec
}

func (f *fakeRunner) run(ctx context.Context, spec exec.Spec) (*exec.Output, error) {
	f.spec = spec
	return f.out, f.err
}

// stdioGateway builds a gateway whose stdio transport is backed by the fake
// runner, with one nmap server registered for reconnaissance.
func stdioGateway(t *testing.T, runner *fakeRunner) *Gateway {
	t.Helper()

	g := New(map[string][]Server{
		"reconnaissance": {
			{Name: "nmap", Command: "nmap-server", Tools: []string{"nmap"}},
		},
	}, 5*time.Second)
	g.stdio = &stdioInvoker{runner: runner.run}
	return g
}

func TestServerTransport(t *testing.T) {
	assert.Equal(t, TransportStdio, Server{Command: "nmap-server"}.Transport())
	assert.Equal(t, TransportStreamableHTTP, Server{URL: "http://localhost:9000/invoke"}.Transport())
}

func TestNewDefaults(t *testing.T) {
	g := New(nil, 0)
	assert.Equal(t, 60*time.Second, g.Timeout())
}

func TestInvokeStdio(t *testing.T) {
	ctx := context.Background()
	call := ToolCall{Tool: "nmap", Args: map[string]any{"target": "10.0.0.5"}, Agent: "reconnaissance", CorrelationID: "c1"}

	t.Run("successful call", func(t *testing.T) {
		runner := &fakeRunner{out: &exec.Output{
			Stdout: []byte(`{"success":true,"payload":"22/tcp open ssh"}` + "\n"),
		}}
		g := stdioGateway(t, runner)

		res := g.Invoke(ctx, call)
		assert.True(t, res.Success)
		assert.Equal(t, "22/tcp open ssh", res.Payload)
		assert.Empty(t, res.Error)
		assert.Greater(t, res.Duration, time.Duration(0))

		// The wire request went out on stdin.
		var req request
		require.NoError(t, json.Unmarshal(runner.spec.Stdin, &req))
		assert.Equal(t, "nmap", req.ToolName)
		assert.Equal(t, "10.0.0.5", req.Arguments["target"])
		assert.Equal(t, "nmap-server", runner.spec.Command)
	})

	t.Run("structured payload stays JSON", func(t *testing.T) {
		runner := &fakeRunner{out: &exec.Output{
			Stdout: []byte(`{"success":true,"payload":{"ports":[22,80]}}` + "\n"),
		}}
		g := stdioGateway(t, runner)

		res := g.Invoke(ctx, call)
		assert.True(t, res.Success)
		assert.JSONEq(t, `{"ports":[22,80]}`, res.Payload)
	})

	t.Run("progress lines before the envelope are skipped", func(t *testing.T) {
		runner := &fakeRunner{out: &exec.Output{
			Stdout: []byte("starting scan\nprogress 50%\n" + `{"success":true,"payload":"done"}` + "\n"),
		}}
		g := stdioGateway(t, runner)

		res := g.Invoke(ctx, call)
		assert.True(t, res.Success)
		assert.Equal(t, "done", res.Payload)
	})

	t.Run("tool-reported failure", func(t *testing.T) {
		runner := &fakeRunner{out: &exec.Output{
			Stdout: []byte(`{"success":false,"error":"host unreachable"}` + "\n"),
		}}
		g := stdioGateway(t, runner)

		res := g.Invoke(ctx, call)
		assert.False(t, res.Success)
		assert.Equal(t, "host unreachable", res.Error)
	})

	t.Run("timeout maps to the timeout error", func(t *testing.T) {
		runner := &fakeRunner{err: exec.ErrTimeout}
		g := stdioGateway(t, runner)

		res := g.Invoke(ctx, call)
		assert.False(t, res.Success)
		assert.Equal(t, ErrorTimeout, res.Error)
	})

	t.Run("garbage output is malformed", func(t *testing.T) {
		runner := &fakeRunner{out: &exec.Output{Stdout: []byte("{not json\n")}}
		g := stdioGateway(t, runner)

		res := g.Invoke(ctx, call)
		assert.False(t, res.Success)
		assert.Equal(t, ErrorMalformedResponse, res.Error)
	})

	t.Run("no output at all is malformed", func(t *testing.T) {
		runner := &fakeRunner{out: &exec.Output{}}
		g := stdioGateway(t, runner)

		res := g.Invoke(ctx, call)
		assert.False(t, res.Success)
		assert.Equal(t, ErrorMalformedResponse, res.Error)
	})

	t.Run("crashed server reports its exit", func(t *testing.T) {
		runner := &fakeRunner{out: &exec.Output{ExitCode: 2, Stderr: []byte("segfault")}}
		g := stdioGateway(t, runner)

		res := g.Invoke(ctx, call)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "exited with code 2")
	})

	t.Run("unknown tool never reaches a transport", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("should not run")}
		g := stdioGateway(t, runner)

		res := g.Invoke(ctx, ToolCall{Tool: "metasploit", Agent: "reconnaissance"})
		assert.False(t, res.Success)
		assert.Equal(t, ErrorUnknownTool, res.Error)

		res = g.Invoke(ctx, ToolCall{Tool: "nmap", Agent: "stranger"})
		assert.False(t, res.Success)
		assert.Equal(t, ErrorUnknownTool, res.Error)
	})
}

func TestServerFor(t *testing.T) {
	g := New(map[string][]Server{
		"reconnaissance": {
			{Name: "nmap", Command: "nmap-server", Tools: []string{"nmap", "masscan"}},
			{Name: "generic", Command: "generic-server"},
		},
	}, time.Second)

	t.Run("advertised tool wins", func(t *testing.T) {
		srv, ok := g.serverFor("reconnaissance", "masscan")
		require.True(t, ok)
		assert.Equal(t, "nmap", srv.Name)
	})

	t.Run("catch-all takes the rest", func(t *testing.T) {
		srv, ok := g.serverFor("reconnaissance", "whois")
		require.True(t, ok)
		assert.Equal(t, "generic", srv.Name)
	})

	t.Run("no server for unknown agent", func(t *testing.T) {
		_, ok := g.serverFor("stranger", "nmap")
		assert.False(t, ok)
	})
}

func TestRawPayload(t *testing.T) {
	assert.Equal(t, "", rawPayload(nil))
	assert.Equal(t, "plain text", rawPayload(json.RawMessage(`"plain text"`)))
	assert.Equal(t, `{"a":1}`, rawPayload(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, `[1,2]`, rawPayload(json.RawMessage(`[1,2]`)))
}
