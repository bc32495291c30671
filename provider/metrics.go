package provider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for provider calls.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skulinks_provider_requests_total",
			Help: "Total API requests issued to the storage provider.",
		},
		[]string{"route"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skulinks_provider_request_duration_seconds",
			Help:    "Storage provider request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skulinks_provider_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skulinks_provider_errors_total",
			Help: "Total number of provider errors by type.",
		},
		[]string{"route", "error_type"},
	)

	if reg != nil {
		reg.MustRegister(requests, requestDuration, retries, errorsTotal)
	}

	return &Metrics{
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests counter for route.
func (m *Metrics) IncRequest(route string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route).Inc()
}

// ObserveDuration records a request duration.
func (m *Metrics) ObserveDuration(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter.
func (m *Metrics) IncError(route, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(route, errorType).Inc()
}
