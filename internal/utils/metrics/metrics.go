package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Store metrics
	MutationsTotal           *prometheus.CounterVec
	PersistWritesTotal       *prometheus.CounterVec
	SnapshotsTotal           *prometheus.CounterVec
	ListenerErrorsTotal      *prometheus.CounterVec
	RemoteWriteFailuresTotal *prometheus.CounterVec

	// Session metrics
	SessionEventsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry.
func New(namespace string) *Metrics {
	return NewWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance registered on reg.
func NewWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "todoflow"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Store metrics
		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "mutations_total",
				Help:      "Total number of store mutations",
			},
			[]string{"store", "op", "mode"}, // mode: local, remote
		),
		PersistWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "persist_writes_total",
				Help:      "Total number of local cache writes",
			},
			[]string{"store", "result"}, // result: ok, error
		),
		SnapshotsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "snapshots_total",
				Help:      "Total number of remote snapshots applied",
			},
			[]string{"store"},
		),
		ListenerErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "listener_errors_total",
				Help:      "Total number of remote listener errors",
			},
			[]string{"store"},
		),
		RemoteWriteFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "remote_write_failures_total",
				Help:      "Total number of failed remote writes",
			},
			[]string{"store"},
		),

		// Session metrics
		SessionEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "events_total",
				Help:      "Total number of session events",
			},
			[]string{"event"}, // event: sign_in, sign_in_failed, logout, initialized, bypass
		),
	}
}

// --- Convenience methods ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := statusCodeToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMutation records a store mutation routed in the given mode.
func (m *Metrics) RecordMutation(store, op, mode string) {
	m.MutationsTotal.WithLabelValues(store, op, mode).Inc()
}

// RecordPersistWrite records a local cache write.
func (m *Metrics) RecordPersistWrite(store string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PersistWritesTotal.WithLabelValues(store, result).Inc()
}

// RecordSnapshot records an applied remote snapshot.
func (m *Metrics) RecordSnapshot(store string) {
	m.SnapshotsTotal.WithLabelValues(store).Inc()
}

// RecordListenerError records a remote listener failure.
func (m *Metrics) RecordListenerError(store string) {
	m.ListenerErrorsTotal.WithLabelValues(store).Inc()
}

// RecordRemoteWriteFailure records a remote write that was logged and dropped.
func (m *Metrics) RecordRemoteWriteFailure(store string) {
	m.RemoteWriteFailuresTotal.WithLabelValues(store).Inc()
}

// RecordSessionEvent records a session gate event.
func (m *Metrics) RecordSessionEvent(event string) {
	m.SessionEventsTotal.WithLabelValues(event).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
