package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, r *Registry, name string) *dto.MetricFamily {
	t.Helper()

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}

	t.Fatalf("metric family %q not gathered", name)

	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}

	return ""
}

func TestInitializeMetricsRegistry(t *testing.T) {
	r1 := InitializeMetricsRegistry()
	r2 := InitializeMetricsRegistry()

	r1.SessionCreated("sse")

	assert.InDelta(t, 1, testutil.ToFloat64(r1.SessionsActive), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(r2.SessionsActive), 0, "registries must not share state")
}

func TestRegistry_SessionLifecycle(t *testing.T) {
	r := InitializeMetricsRegistry()

	r.SessionCreated("sse")
	r.SessionCreated("streamable-http")
	r.SessionRejected()
	r.SessionDestroyed("expired")

	assert.InDelta(t, 1, testutil.ToFloat64(r.SessionsActive), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.SessionsRejected), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.SessionsCreated.WithLabelValues("sse")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.SessionsDestroyed.WithLabelValues("expired")), 0)

	r.SetSessionHealth(map[string]int{"healthy": 3, "failed": 1})
	assert.InDelta(t, 3, testutil.ToFloat64(r.SessionHealth.WithLabelValues("healthy")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.SessionHealth.WithLabelValues("failed")), 0)
}

func TestRegistry_ToolCall(t *testing.T) {
	r := InitializeMetricsRegistry()

	r.ToolCall("sse", http.StatusOK, 20*time.Millisecond, 10, 250)
	r.ToolCall("sse", http.StatusNotFound, 5*time.Millisecond, 12, 40)

	mf := findFamily(t, r, "mcp_gateway_tool_calls_total")
	require.Len(t, mf.GetMetric(), 2)

	statuses := map[string]float64{}
	for _, m := range mf.GetMetric() {
		statuses[labelValue(m, "status")] = m.GetCounter().GetValue()
	}

	assert.Equal(t, map[string]float64{"200": 1, "404": 1}, statuses)

	hist := findFamily(t, r, "mcp_gateway_tool_call_duration_seconds")
	require.Len(t, hist.GetMetric(), 1)
	assert.Equal(t, uint64(2), hist.GetMetric()[0].GetHistogram().GetSampleCount())

	assert.InDelta(t, 22, testutil.ToFloat64(r.ToolCallBytes.WithLabelValues("in")), 0)
	assert.InDelta(t, 290, testutil.ToFloat64(r.ToolCallBytes.WithLabelValues("out")), 0)
}

func TestRegistry_PoolAndErrors(t *testing.T) {
	r := InitializeMetricsRegistry()

	r.PoolConnect("srv", true)
	r.PoolConnect("srv", false)
	r.PoolExhausted("srv")
	r.PoolEvicted(3)
	r.SetPoolConnections(2, 5)
	r.IncrementErrors("TOOL_NOT_FOUND", "executor", "NOT_FOUND", false)

	assert.InDelta(t, 1, testutil.ToFloat64(r.PoolCreateTotal.WithLabelValues("srv", "failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.PoolExhaustedTotal.WithLabelValues("srv")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(r.PoolEvictedTotal), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(r.PoolConnections.WithLabelValues("idle")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.ErrorsTotal.WithLabelValues("TOOL_NOT_FOUND", "executor")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.ErrorsRetryable.WithLabelValues("false")), 0)
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry

	assert.NotPanics(t, func() {
		r.SessionCreated("sse")
		r.SessionRejected()
		r.SessionDestroyed("closed")
		r.SetSessionHealth(map[string]int{"healthy": 1})
		r.RecoveryAttempt("success")
		r.PoolConnect("srv", true)
		r.PoolExhausted("srv")
		r.PoolEvicted(1)
		r.SetPoolConnections(1, 1)
		r.AuthFailure("api_key", "invalid")
		r.AuthSuccess("jwt")
		r.CacheOperation("server", "hit")
		r.ToolCall("sse", http.StatusOK, time.Millisecond, 1, 1)
		r.AnalyticsPublish("error")
		r.RequestLogDrop()
		r.IncrementErrors("X", "y", "z", true)
	})
}

func TestRegistry_Handler(t *testing.T) {
	r := InitializeMetricsRegistry()
	r.AuthSuccess("api_key")
	r.CacheOperation("server", "hit")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mcp_gateway_auth_success_total{method="api_key"} 1`)
	assert.Contains(t, string(body), `mcp_gateway_cache_operations_total{cache="server",result="hit"} 1`)
}
