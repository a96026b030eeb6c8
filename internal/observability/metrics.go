package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions       prometheus.Gauge
	sessionsCreatedTotal prometheus.Counter
	sessionsRecycled     prometheus.Counter

	chatRequestsTotal   *prometheus.CounterVec
	chatRequestDuration prometheus.Histogram

	vectorStoreRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
	registry    *prometheus.Registry
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		registry = prometheus.NewRegistry()

		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active conversation session count.",
				},
			),
			sessionsCreatedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_created_total",
					Help: "Total conversation sessions created.",
				},
			),
			sessionsRecycled: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_recycled_total",
					Help: "Total expired sessions removed by the recycler.",
				},
			),
			chatRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_requests_total",
					Help: "Total chat completion requests by status.",
				},
				[]string{"status"},
			),
			chatRequestDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_request_duration_seconds",
					Help:    "Chat completion request duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			vectorStoreRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vector_store_requests_total",
					Help: "Total vector store operations by operation and status.",
				},
				[]string{"op", "status"},
			),
		}

		registry.MustRegister(
			m.activeSessions,
			m.sessionsCreatedTotal,
			m.sessionsRecycled,
			m.chatRequestsTotal,
			m.chatRequestDuration,
			m.vectorStoreRequests,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call from any package init path.
func EnsureRegistered() {
	getMetrics()
}

// SetActiveSessions records the current session count
func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

// RecordSessionCreated increments the created-session counter
func RecordSessionCreated() {
	getMetrics().sessionsCreatedTotal.Inc()
}

// RecordSessionsRecycled adds to the recycled-session counter
func RecordSessionsRecycled(n int) {
	getMetrics().sessionsRecycled.Add(float64(n))
}

// RecordChatRequest counts one chat request with its outcome status
func RecordChatRequest(status string, duration time.Duration) {
	m := getMetrics()
	m.chatRequestsTotal.WithLabelValues(status).Inc()
	m.chatRequestDuration.Observe(duration.Seconds())
}

// RecordVectorStoreRequest counts one vector store operation
func RecordVectorStoreRequest(op, status string) {
	getMetrics().vectorStoreRequests.WithLabelValues(op, status).Inc()
}

// MetricsHandler returns the HTTP handler serving the metrics endpoint
func MetricsHandler() http.Handler {
	getMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
