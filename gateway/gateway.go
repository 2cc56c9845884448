// Package gateway provides the uniform client for invoking named tools hosted
// by external tool servers.
//
// Tool servers are addressed by name and transport. A server configured with
// a command line is spoken to over stdio (one process per call, request on
// stdin, response on stdout); a server configured with a URL is spoken to
// over streamable HTTP. Both share one wire contract: the request is
// {"tool_name": ..., "arguments": {...}} and the response is an envelope
// {"success": ..., "payload"|"error": ...}.
//
// The gateway enforces a per-call timeout and maps every tool-level failure
// (timeout, transport fault, malformed response) into an unsuccessful
// ToolResult instead of a Go error, so the engine is never blocked or faulted
// by a misbehaving tool. It never retries; retry policy belongs to the
// requesting agent's next decision.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/decepticon-ai/decepticon/exec"
)

// Transport identifies how a tool server is reached.
type Transport string

const (
	// TransportStdio runs the server as a subprocess per call, exchanging
	// JSON over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP posts the request to the server's URL and reads
	// a streamed JSON response.
	TransportStreamableHTTP Transport = "streamable_http"
)

// Server describes one registered tool server.
type Server struct {
	// Name is the server's identifier within its role's set.
	Name string

	// Command and Args define a stdio server.
	Command string
	Args    []string

	// URL defines a streamable HTTP server.
	URL string

	// Tools lists the tool names this server hosts. A server with an empty
	// list is the catch-all for its role.
	Tools []string
}

// Transport returns the server's transport, inferred the same way the
// configuration layer does: a URL means streamable HTTP, otherwise stdio.
func (s Server) Transport() Transport {
	if s.URL != "" {
		return TransportStreamableHTTP
	}
	return TransportStdio
}

func (s Server) hosts(tool string) bool {
	for _, t := range s.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// ToolCall is a single tool invocation request.
type ToolCall struct {
	// Tool is the name of the tool to invoke.
	Tool string

	// Args is the argument mapping passed to the tool.
	Args map[string]any

	// Agent is the requesting agent; it selects which server set the call is
	// routed through.
	Agent string

	// CorrelationID ties the call to its result event.
	CorrelationID string
}

// ToolResult is the structured outcome of a tool invocation.
type ToolResult struct {
	// Success reports whether the tool executed and returned a payload.
	Success bool

	// Payload is the tool output: raw text, or compact JSON when the server
	// returned structured data.
	Payload string

	// Error describes the failure when Success is false. Well-known values:
	// "timeout", "malformed-response", "unknown-tool".
	Error string

	// Duration is the wall-clock time of the invocation.
	Duration time.Duration
}

// Well-known ToolResult error strings.
const (
	ErrorTimeout           = "timeout"
	ErrorMalformedResponse = "malformed-response"
	ErrorUnknownTool       = "unknown-tool"
)

// envelope is the wire response shared by both transports.
type envelope struct {
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// request is the wire request shared by both transports.
type request struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// invoker is one transport implementation.
type invoker interface {
	invoke(ctx context.Context, srv Server, req request) (*envelope, error)
}

// Gateway routes tool calls to the servers registered for each agent role.
type Gateway struct {
	servers map[string][]Server
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer

	stdio invoker
	http  invoker
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithTracer sets the OpenTelemetry tracer used for invocation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Gateway) { g.tracer = tracer }
}

// New creates a gateway over a role-to-servers mapping with a per-call
// timeout. A zero timeout defaults to 60 seconds.
func New(servers map[string][]Server, timeout time.Duration, opts ...Option) *Gateway {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	g := &Gateway{
		servers: servers,
		timeout: timeout,
		logger:  slog.Default(),
		tracer:  otel.Tracer("decepticon/gateway"),
		stdio:   &stdioInvoker{runner: exec.Run},
		http:    newHTTPInvoker(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout returns the configured per-call timeout.
func (g *Gateway) Timeout() time.Duration {
	return g.timeout
}

// Invoke dispatches a tool call and returns its structured result. Tool-level
// failures are reported through the result, never as a Go error, and no retry
// is attempted.
func (g *Gateway) Invoke(ctx context.Context, call ToolCall) ToolResult {
	ctx, span := g.tracer.Start(ctx, "gateway.Invoke",
		trace.WithAttributes(
			attribute.String("tool.name", call.Tool),
			attribute.String("agent.name", call.Agent),
			attribute.String("call.id", call.CorrelationID),
		))
	defer span.End()

	start := time.Now()
	result := g.dispatch(ctx, call)
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.Bool("tool.success", result.Success))
	if !result.Success {
		span.SetAttributes(attribute.String("tool.error", result.Error))
		g.logger.Warn("tool call failed",
			"tool", call.Tool,
			"agent", call.Agent,
			"error", result.Error,
			"duration", result.Duration)
	} else {
		g.logger.Debug("tool call completed",
			"tool", call.Tool,
			"agent", call.Agent,
			"duration", result.Duration)
	}
	return result
}

func (g *Gateway) dispatch(ctx context.Context, call ToolCall) ToolResult {
	srv, ok := g.serverFor(call.Agent, call.Tool)
	if !ok {
		return ToolResult{Success: false, Error: ErrorUnknownTool}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := request{ToolName: call.Tool, Arguments: call.Args}

	var (
		env *envelope
		err error
	)
	switch srv.Transport() {
	case TransportStreamableHTTP:
		env, err = g.http.invoke(ctx, srv, req)
	default:
		env, err = g.stdio.invoke(ctx, srv, req)
	}

	if err != nil {
		switch {
		case errors.Is(err, exec.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return ToolResult{Success: false, Error: ErrorTimeout}
		case errors.Is(err, errMalformed):
			return ToolResult{Success: false, Error: ErrorMalformedResponse}
		default:
			return ToolResult{Success: false, Error: err.Error()}
		}
	}

	if !env.Success {
		detail := env.Error
		if detail == "" {
			detail = "tool reported failure"
		}
		return ToolResult{Success: false, Error: detail, Payload: rawPayload(env.Payload)}
	}
	return ToolResult{Success: true, Payload: rawPayload(env.Payload)}
}

// serverFor selects the server hosting the tool within the agent's set: the
// first server that advertises the tool, falling back to a catch-all server
// with no advertised tool list.
func (g *Gateway) serverFor(agentName, tool string) (Server, bool) {
	set := g.servers[agentName]
	for _, srv := range set {
		if srv.hosts(tool) {
			return srv, true
		}
	}
	for _, srv := range set {
		if len(srv.Tools) == 0 {
			return srv, true
		}
	}
	return Server{}, false
}

// errMalformed marks responses that could not be decoded into the envelope.
var errMalformed = errors.New("malformed tool response")

// rawPayload renders the wire payload: JSON strings unwrap to plain text,
// anything else stays compact JSON.
func rawPayload(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// decodeEnvelope parses one wire envelope, mapping JSON faults to errMalformed.
func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return &env, nil
}
