package provider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus collectors for the fallback manager,
// namespaced "orchflow_provider". Collectors are safe for concurrent
// use, so unlike the teacher's copy this carries no mutex.
type Metrics struct {
	requestsTotal  *prometheus.CounterVec
	successTotal   *prometheus.CounterVec
	failureTotal   *prometheus.CounterVec
	responseTime   *prometheus.HistogramVec
	fallbacksTotal prometheus.Counter
}

// NewMetrics registers all provider metrics with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchflow_provider",
			Name:      "requests_total",
			Help:      "Dispatch attempts per provider",
		}, []string{"provider_id"}),
		successTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchflow_provider",
			Name:      "success_total",
			Help:      "Successful dispatch attempts per provider",
		}, []string{"provider_id"}),
		failureTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchflow_provider",
			Name:      "failure_total",
			Help:      "Failed dispatch attempts per provider",
		}, []string{"provider_id"}),
		responseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchflow_provider",
			Name:      "response_time_seconds",
			Help:      "Provider response time in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider_id"}),
		fallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchflow_provider",
			Name:      "fallbacks_total",
			Help:      "Dispatches that succeeded only after falling back past the first provider",
		}),
	}
}

func (m *Metrics) observeAttempt(providerID string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(providerID).Inc()
}

func (m *Metrics) observeSuccess(providerID string, attempt int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.successTotal.WithLabelValues(providerID).Inc()
	m.responseTime.WithLabelValues(providerID).Observe(elapsed.Seconds())
	if attempt > 1 {
		m.fallbacksTotal.Inc()
	}
}

func (m *Metrics) observeFailure(providerID string) {
	if m == nil {
		return
	}
	m.failureTotal.WithLabelValues(providerID).Inc()
}
