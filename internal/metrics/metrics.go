package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Pool metrics
	AcquireDuration      prometheus.Histogram
	AcquireTimeoutsTotal prometheus.Counter
	HandleEvictionsTotal prometheus.Counter
	InvokeErrorsTotal    *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		AcquireDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pool_acquire_duration_seconds",
				Help:    "Time to acquire an instrument session",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		AcquireTimeoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pool_acquire_timeouts_total",
				Help: "Total number of acquire attempts that timed out",
			},
		),
		HandleEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pool_handle_evictions_total",
				Help: "Total number of handles evicted from the pool",
			},
		),
		InvokeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instrument_invoke_errors_total",
				Help: "Total number of failed automation invocations",
			},
			[]string{"kind"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.AcquireDuration,
		m.AcquireTimeoutsTotal,
		m.HandleEvictionsTotal,
		m.InvokeErrorsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// RegisterPoolGauges registers gauges that pull live pool state
func (m *Metrics) RegisterPoolGauges(leased, idle, waiters func() float64) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pool_handles_leased",
			Help: "Handles currently leased to sessions",
		}, leased),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pool_handles_idle",
			Help: "Handles currently idle in the pool",
		}, idle),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pool_waiters",
			Help: "Callers currently waiting for a handle",
		}, waiters),
	)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry for testing
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
