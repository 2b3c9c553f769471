// Package metrics provides Prometheus metrics collection and reporting for the MCP gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics. Every method is safe to call on a
// nil *Registry so components can be constructed without metrics in tests.
type Registry struct {
	reg *prometheus.Registry

	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionsCreated   *prometheus.CounterVec
	SessionsRejected  prometheus.Counter
	SessionsDestroyed *prometheus.CounterVec
	SessionHealth     *prometheus.GaugeVec

	// Pool metrics
	PoolConnections    *prometheus.GaugeVec
	PoolCreateTotal    *prometheus.CounterVec
	PoolExhaustedTotal *prometheus.CounterVec
	PoolEvictedTotal   prometheus.Counter

	// Recovery metrics
	RecoveryAttempts *prometheus.CounterVec

	// Authentication metrics
	AuthFailuresTotal *prometheus.CounterVec
	AuthSuccessTotal  *prometheus.CounterVec

	// Cache metrics
	CacheOperations *prometheus.CounterVec

	// Tool call metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	ToolCallBytes    *prometheus.CounterVec

	// Request log pipeline
	AnalyticsPublishTotal *prometheus.CounterVec
	RequestLogDropped     prometheus.Counter

	// Error metrics
	ErrorsTotal     *prometheus.CounterVec
	ErrorsByType    *prometheus.CounterVec
	ErrorsRetryable *prometheus.CounterVec
}

// InitializeMetricsRegistry creates and configures a metrics collection registry.
func InitializeMetricsRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	r := &Registry{reg: reg}
	createSessionMetrics(factory, r)
	createPoolMetrics(factory, r)
	createAuthMetrics(factory, r)
	createToolMetrics(factory, r)
	createErrorMetrics(factory, r)

	return r
}

func createSessionMetrics(factory promauto.Factory, r *Registry) {
	r.SessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_gateway_sessions_active",
		Help: "Number of currently registered client sessions",
	})
	r.SessionsCreated = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_sessions_created_total",
		Help: "Total number of sessions created by transport",
	}, []string{"transport"})
	r.SessionsRejected = factory.NewCounter(prometheus.CounterOpts{
		Name: "mcp_gateway_sessions_rejected_total",
		Help: "Total number of sessions refused because the session ceiling was reached",
	})
	r.SessionsDestroyed = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_sessions_destroyed_total",
		Help: "Total number of sessions destroyed by reason",
	}, []string{"reason"})
	r.SessionHealth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mcp_gateway_session_health",
		Help: "Number of tracked sessions per health state",
	}, []string{"state"})
	r.RecoveryAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_recovery_attempts_total",
		Help: "Recovery attempts by outcome",
	}, []string{"result"})
}

func createPoolMetrics(factory promauto.Factory, r *Registry) {
	r.PoolConnections = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mcp_gateway_pool_connections",
		Help: "Pooled upstream connections by state",
	}, []string{"state"})
	r.PoolCreateTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_pool_connect_total",
		Help: "Upstream connection creation attempts by server and result",
	}, []string{"server", "result"})
	r.PoolExhaustedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_pool_exhausted_total",
		Help: "Acquire calls refused because the pool key was at capacity",
	}, []string{"server"})
	r.PoolEvictedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "mcp_gateway_pool_evicted_total",
		Help: "Idle connections closed by the pool sweep",
	})
}

func createAuthMetrics(factory promauto.Factory, r *Registry) {
	r.AuthFailuresTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_auth_failures_total",
		Help: "Authentication failures by method and reason",
	}, []string{"method", "reason"})
	r.AuthSuccessTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_auth_success_total",
		Help: "Successful authentications by method",
	}, []string{"method"})
	r.CacheOperations = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_cache_operations_total",
		Help: "Metadata cache operations by cache and result",
	}, []string{"cache", "result"})
}

func createToolMetrics(factory promauto.Factory, r *Registry) {
	r.ToolCallsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_tool_calls_total",
		Help: "Tool calls by transport and HTTP status",
	}, []string{"transport", "status"})
	r.ToolCallDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_gateway_tool_call_duration_seconds",
		Help:    "Tool call duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport"})
	r.ToolCallBytes = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_tool_call_bytes_total",
		Help: "Request and response bytes for tool calls",
	}, []string{"direction"})
	r.AnalyticsPublishTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_analytics_publish_total",
		Help: "Analytics fan-out attempts by result",
	}, []string{"result"})
	r.RequestLogDropped = factory.NewCounter(prometheus.CounterOpts{
		Name: "mcp_gateway_request_log_dropped_total",
		Help: "Request log records dropped because the queue was full",
	})
}

func createErrorMetrics(factory promauto.Factory, r *Registry) {
	r.ErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_errors_total",
		Help: "Total number of errors by code and component",
	}, []string{"code", "component"})
	r.ErrorsByType = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_errors_by_type_total",
		Help: "Total number of errors by error type",
	}, []string{"type"})
	r.ErrorsRetryable = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_errors_retryable_total",
		Help: "Total number of retryable vs non-retryable errors",
	}, []string{"retryable"})
}

// Handler serves this registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// SessionCreated records a new session for transport.
func (r *Registry) SessionCreated(transport string) {
	if r == nil {
		return
	}

	r.SessionsCreated.WithLabelValues(transport).Inc()
	r.SessionsActive.Inc()
}

// SessionRejected records a refused session.
func (r *Registry) SessionRejected() {
	if r == nil {
		return
	}

	r.SessionsRejected.Inc()
}

// SessionDestroyed records a destroyed session.
func (r *Registry) SessionDestroyed(reason string) {
	if r == nil {
		return
	}

	r.SessionsDestroyed.WithLabelValues(reason).Inc()
	r.SessionsActive.Dec()
}

// SetSessionHealth publishes the per-state session counts.
func (r *Registry) SetSessionHealth(counts map[string]int) {
	if r == nil {
		return
	}

	for state, n := range counts {
		r.SessionHealth.WithLabelValues(state).Set(float64(n))
	}
}

// RecoveryAttempt records the outcome of a recovery attempt.
func (r *Registry) RecoveryAttempt(result string) {
	if r == nil {
		return
	}

	r.RecoveryAttempts.WithLabelValues(result).Inc()
}

// PoolConnect records an upstream connection creation attempt.
func (r *Registry) PoolConnect(server string, ok bool) {
	if r == nil {
		return
	}

	result := "success"
	if !ok {
		result = "failure"
	}

	r.PoolCreateTotal.WithLabelValues(server, result).Inc()
}

// PoolExhausted records an acquire refused at capacity.
func (r *Registry) PoolExhausted(server string) {
	if r == nil {
		return
	}

	r.PoolExhaustedTotal.WithLabelValues(server).Inc()
}

// PoolEvicted records idle connections closed by the sweep.
func (r *Registry) PoolEvicted(n int) {
	if r == nil {
		return
	}

	r.PoolEvictedTotal.Add(float64(n))
}

// SetPoolConnections publishes active and idle connection counts.
func (r *Registry) SetPoolConnections(active, idle int) {
	if r == nil {
		return
	}

	r.PoolConnections.WithLabelValues("active").Set(float64(active))
	r.PoolConnections.WithLabelValues("idle").Set(float64(idle))
}

// AuthFailure records an authentication or authorization failure.
func (r *Registry) AuthFailure(method, reason string) {
	if r == nil {
		return
	}

	r.AuthFailuresTotal.WithLabelValues(method, reason).Inc()
}

// AuthSuccess records a successful authentication.
func (r *Registry) AuthSuccess(method string) {
	if r == nil {
		return
	}

	r.AuthSuccessTotal.WithLabelValues(method).Inc()
}

// CacheOperation records a cache lookup outcome.
func (r *Registry) CacheOperation(cache, result string) {
	if r == nil {
		return
	}

	r.CacheOperations.WithLabelValues(cache, result).Inc()
}

// ToolCall records a completed tool call.
func (r *Registry) ToolCall(transport string, status int, duration time.Duration, inBytes, outBytes int64) {
	if r == nil {
		return
	}

	r.ToolCallsTotal.WithLabelValues(transport, strconv.Itoa(status)).Inc()
	r.ToolCallDuration.WithLabelValues(transport).Observe(duration.Seconds())
	r.ToolCallBytes.WithLabelValues("in").Add(float64(inBytes))
	r.ToolCallBytes.WithLabelValues("out").Add(float64(outBytes))
}

// AnalyticsPublish records an analytics fan-out outcome.
func (r *Registry) AnalyticsPublish(result string) {
	if r == nil {
		return
	}

	r.AnalyticsPublishTotal.WithLabelValues(result).Inc()
}

// RequestLogDrop records a request log record that could not be queued.
func (r *Registry) RequestLogDrop() {
	if r == nil {
		return
	}

	r.RequestLogDropped.Inc()
}

// IncrementErrors records an error by code, component and type.
func (r *Registry) IncrementErrors(code, component, errType string, retryable bool) {
	if r == nil {
		return
	}

	r.ErrorsTotal.WithLabelValues(code, component).Inc()
	r.ErrorsByType.WithLabelValues(errType).Inc()
	r.ErrorsRetryable.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}
