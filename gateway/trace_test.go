package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/decepticon-ai/decepticon/exec"
)

func TestInvokeTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	runner := &fakeRunner{out: &exec.Output{
		Stdout: []byte(`{"success":true,"payload":"ok"}` + "\n"),
	}}
	g := New(map[string][]Server{
		"reconnaissance": {{Name: "nmap", Command: "nmap-server", Tools: []string{"nmap"}}},
	}, 5*time.Second, WithTracer(tp.Tracer("test")))
	g.stdio = &stdioInvoker{runner: runner.run}

	res := g.Invoke(context.Background(), ToolCall{
		Tool:          "nmap",
		Agent:         "reconnaissance",
		CorrelationID: "c1",
	})
	require.True(t, res.Success)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "gateway.Invoke", spans[0].Name)

	attrs := make(map[string]any, len(spans[0].Attributes))
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "nmap", attrs["tool.name"])
	assert.Equal(t, "reconnaissance", attrs["agent.name"])
	assert.Equal(t, "c1", attrs["call.id"])
	assert.Equal(t, true, attrs["tool.success"])
}
