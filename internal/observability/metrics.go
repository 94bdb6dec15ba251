// Package observability bundles the Prometheus collectors the agent exposes
// through the HTTP bridge. All record methods are nil-safe so call sites do
// not need to guard the no-metrics configuration.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the agent process.
type Metrics struct {
	registry *prometheus.Registry

	RPCRequests   *prometheus.CounterVec
	RPCDuration   *prometheus.HistogramVec
	PromptRuns    *prometheus.CounterVec
	PromptTokens  *prometheus.CounterVec
	Sessions      *prometheus.GaugeVec
	BusyOps       prometheus.Gauge
	Notifications *prometheus.CounterVec
	MirrorErrs    prometheus.Counter
}

// NewMetrics constructs a private registry with the agent collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	rpcReqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ccagent_rpc_requests_total",
		Help: "Dispatched JSON-RPC requests by method and outcome",
	}, []string{"method", "status"})

	rpcDurs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ccagent_rpc_duration_seconds",
		Help:    "JSON-RPC request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	promptRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ccagent_prompt_runs_total",
		Help: "Completed prompt turns by stop reason",
	}, []string{"stop_reason"})

	promptTokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ccagent_prompt_tokens_total",
		Help: "Model tokens consumed by prompt turns",
	}, []string{"direction"})

	sessions := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ccagent_sessions",
		Help: "Registered sessions by lifecycle state",
	}, []string{"state"})

	busyOps := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ccagent_busy_operations",
		Help: "Exclusive operations currently in flight",
	})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ccagent_notifications_total",
		Help: "session/update notifications emitted by update kind",
	}, []string{"kind"})

	mirrorErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ccagent_mirror_errors_total",
		Help: "Mirror sink publish failures",
	})

	reg.MustRegister(rpcReqs, rpcDurs, promptRuns, promptTokens, sessions, busyOps, notifications, mirrorErrs)

	return &Metrics{
		registry:      reg,
		RPCRequests:   rpcReqs,
		RPCDuration:   rpcDurs,
		PromptRuns:    promptRuns,
		PromptTokens:  promptTokens,
		Sessions:      sessions,
		BusyOps:       busyOps,
		Notifications: notifications,
		MirrorErrs:    mirrorErrs,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRPC records one dispatched request.
func (m *Metrics) RecordRPC(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.RPCRequests.WithLabelValues(method, status).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordPromptRun records a finished prompt turn and its token usage.
func (m *Metrics) RecordPromptRun(stopReason string, inputTokens, outputTokens int64) {
	if m == nil {
		return
	}
	if stopReason == "" {
		stopReason = "unknown"
	}
	m.PromptRuns.WithLabelValues(stopReason).Inc()
	m.PromptTokens.WithLabelValues("input").Add(float64(inputTokens))
	m.PromptTokens.WithLabelValues("output").Add(float64(outputTokens))
}

// SetSessions sets the gauge for one lifecycle state.
func (m *Metrics) SetSessions(state string, n int) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(state).Set(float64(n))
}

// IncBusyOperations increments the in-flight operation gauge.
func (m *Metrics) IncBusyOperations() {
	if m == nil {
		return
	}
	m.BusyOps.Inc()
}

// DecBusyOperations decrements the in-flight operation gauge.
func (m *Metrics) DecBusyOperations() {
	if m == nil {
		return
	}
	m.BusyOps.Dec()
}

// RecordNotification counts one emitted session/update by kind.
func (m *Metrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.Notifications.WithLabelValues(kind).Inc()
}

// RecordMirrorError counts one failed mirror publish.
func (m *Metrics) RecordMirrorError() {
	if m == nil {
		return
	}
	m.MirrorErrs.Inc()
}
