// Package metrics exposes the gateway's Prometheus counters and
// histograms on a dedicated /metrics endpoint, narrowed to a handful of
// series: backend calls, tool dispatches, and RAG search
// latency/updater batches.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every series the gateway records. It is safe for
// concurrent use; Prometheus client types are goroutine-safe by design.
type Metrics struct {
	registry *prometheus.Registry

	backendCalls      *prometheus.CounterVec
	backendCallErrors *prometheus.CounterVec
	toolCalls         *prometheus.CounterVec
	toolCallErrors    *prometheus.CounterVec
	toolIterations    prometheus.Counter
	ragSearchLatency  prometheus.Histogram
	ragUpdaterBatches *prometheus.CounterVec
}

// New builds a Metrics instance registered against a fresh, private
// registry (not prometheus.DefaultRegisterer) so repeated test
// construction never panics on duplicate registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		backendCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "backend_calls_total",
			Help:      "Total backend adapter calls, labeled by dialect.",
		}, []string{"dialect"}),
		backendCallErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "backend_call_errors_total",
			Help:      "Total failed backend adapter calls, labeled by dialect.",
		}, []string{"dialect"}),
		toolCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "tool_calls_total",
			Help:      "Total tool dispatches, labeled by tool name.",
		}, []string{"tool"}),
		toolCallErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "tool_call_errors_total",
			Help:      "Total failed tool dispatches, labeled by tool name.",
		}, []string{"tool"}),
		toolIterations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "orchestrator_iterations_total",
			Help:      "Total tool-calling loop iterations across all requests.",
		}),
		ragSearchLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "toolgate",
			Name:      "rag_search_duration_seconds",
			Help:      "RAG index search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		ragUpdaterBatches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "rag_updater_batches_total",
			Help:      "Total incremental-update batches processed, labeled by outcome.",
		}, []string{"outcome"}),
	}
	return m
}

// Handler returns the http.Handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIteration implements orchestrator.Recorder.
func (m *Metrics) ObserveIteration() {
	m.toolIterations.Inc()
}

// ObserveToolCall implements orchestrator.Recorder.
func (m *Metrics) ObserveToolCall(name string, err error) {
	m.toolCalls.WithLabelValues(name).Inc()
	if err != nil {
		m.toolCallErrors.WithLabelValues(name).Inc()
	}
}

// ObserveBackendCall implements orchestrator.Recorder.
func (m *Metrics) ObserveBackendCall(dialect string, err error) {
	m.backendCalls.WithLabelValues(dialect).Inc()
	if err != nil {
		m.backendCallErrors.WithLabelValues(dialect).Inc()
	}
}

// ObserveRAGSearch records one search call's latency in seconds.
func (m *Metrics) ObserveRAGSearch(seconds float64) {
	m.ragSearchLatency.Observe(seconds)
}

// ObserveUpdaterBatch records one incremental-update batch outcome
// ("ok", "error", "rebuild_triggered").
func (m *Metrics) ObserveUpdaterBatch(outcome string) {
	m.ragUpdaterBatches.WithLabelValues(outcome).Inc()
}
