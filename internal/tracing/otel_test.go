package tracing

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/rayven122/tumiki-sub015/internal/config"
	"github.com/rayven122/tumiki-sub015/internal/testutil"
)

func TestInitTracer_Disabled(t *testing.T) {
	p, err := InitTracer(config.TracingConfig{Enabled: false}, "test", testutil.NewTestLogger(t))
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInitTracer_StdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer

	cfg := config.TracingConfig{
		Enabled:     true,
		ServiceName: "mcp-gateway-test",
		Exporter:    ExporterStdout,
		SampleRate:  1,
	}

	p, err := InitTracer(cfg, "test", testutil.NewTestLogger(t), WithOutput(&buf))
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "tools/call")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "tools/call")
	assert.Contains(t, buf.String(), "mcp-gateway-test")
}

func TestInitTracer_UnknownExporter(t *testing.T) {
	cfg := config.TracingConfig{Enabled: true, Exporter: "zipkin", SampleRate: 1}

	_, err := InitTracer(cfg, "test", testutil.NewTestLogger(t))
	assert.Error(t, err)
}

func TestInitTracer_OTLPExporter(t *testing.T) {
	cfg := config.TracingConfig{
		Enabled:      true,
		ServiceName:  "mcp-gateway-test",
		Exporter:     ExporterOTLP,
		SampleRate:   1,
		OTLPEndpoint: "127.0.0.1:4317",
		OTLPInsecure: true,
	}

	p, err := InitTracer(cfg, "test", testutil.NewTestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = p.Shutdown(ctx)
}

func TestMiddleware_ContinuesInboundTrace(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	cfg := config.TracingConfig{Enabled: true, ServiceName: "mcp-gateway-test", Exporter: ExporterStdout, SampleRate: 1}

	p, err := InitTracer(cfg, "test", testutil.NewTestLogger(t), WithOutput(io.Discard), WithSpanProcessor(sr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	var inner trace.SpanContext
	h := p.Middleware("/mcp/{slugOrId}")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = trace.SpanContextFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp/support", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", inner.TraceID().String())

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /mcp/{slugOrId}", spans[0].Name())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
	assert.True(t, spans[0].Parent().IsRemote())
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	p, err := InitTracer(config.TracingConfig{}, "test", testutil.NewTestLogger(t))
	require.NoError(t, err)

	var seen trace.SpanContext
	h := p.Middleware("/mcp")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = trace.SpanContextFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.False(t, seen.IsValid())

	var nilProvider *Provider
	assert.NotNil(t, nilProvider.Middleware("/mcp")(http.NotFoundHandler()))
}

func TestCreateSampler(t *testing.T) {
	assert.Contains(t, createSampler(1).Description(), "AlwaysOnSampler")
	assert.Equal(t, "AlwaysOffSampler", createSampler(0).Description())
	assert.Contains(t, createSampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
