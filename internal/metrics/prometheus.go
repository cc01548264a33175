package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for daemon metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	invocationsTotal *prometheus.CounterVec
	coldStartsTotal  prometheus.Counter
	warmStartsTotal  prometheus.Counter

	invocationDuration *prometheus.HistogramVec

	activeRequests prometheus.Gauge
	queueDepth     *prometheus.GaugeVec

	extensionEventsTotal *prometheus.CounterVec
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of function invocations",
			},
			[]string{"function", "status"},
		),

		coldStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cold_starts_total",
			Help:      "Total number of cold starts",
		}),

		warmStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warm_starts_total",
			Help:      "Total number of warm starts",
		}),

		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_milliseconds",
				Help:      "Duration of function invocations in milliseconds",
				Buckets:   buckets,
			},
			[]string{"function", "cold_start"},
		),

		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active invocation requests",
		}),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current queue depth by function",
			},
			[]string{"function"},
		),

		extensionEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extension_events_total",
				Help:      "Extension lifecycle events by delivery outcome",
			},
			[]string{"outcome"}, // delivered, dropped
		),
	}

	registry.MustRegister(
		pm.invocationsTotal,
		pm.coldStartsTotal,
		pm.warmStartsTotal,
		pm.invocationDuration,
		pm.activeRequests,
		pm.queueDepth,
		pm.extensionEventsTotal,
	)

	promMetrics = pm
}

// RecordPrometheusInvocation bridges an invocation result into the
// Prometheus collectors, if initialized.
func RecordPrometheusInvocation(function string, durationMs int64, coldStart, success bool) {
	if promMetrics == nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	promMetrics.invocationsTotal.WithLabelValues(function, status).Inc()

	if coldStart {
		promMetrics.coldStartsTotal.Inc()
	} else {
		promMetrics.warmStartsTotal.Inc()
	}

	coldLabel := "false"
	if coldStart {
		coldLabel = "true"
	}
	promMetrics.invocationDuration.WithLabelValues(function, coldLabel).Observe(float64(durationMs))
}

// RecordPrometheusExtensionEvent bridges an extension event delivery
// outcome into the Prometheus collectors, if initialized.
func RecordPrometheusExtensionEvent(delivered bool) {
	if promMetrics == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "dropped"
	}
	promMetrics.extensionEventsTotal.WithLabelValues(outcome).Inc()
}

func incPrometheusActiveRequests(delta float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeRequests.Add(delta)
}

// SetQueueDepth updates the per-function queue-depth gauge.
func SetQueueDepth(function string, depth int) {
	if promMetrics == nil {
		return
	}
	promMetrics.queueDepth.WithLabelValues(function).Set(float64(depth))
}

// Handler returns the Prometheus scrape endpoint handler, or nil if
// Prometheus metrics were never initialized.
func Handler() http.Handler {
	if promMetrics == nil {
		return nil
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}
