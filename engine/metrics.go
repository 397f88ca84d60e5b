package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus collectors for the execution loop, namespaced
// "orchflow_". Unlike the teacher's PrometheusMetrics it carries no mutex:
// client_golang's collectors are already safe for concurrent use.
type Metrics struct {
	activeExecutions prometheus.Gauge
	queueDepth       prometheus.Gauge
	nodeLatency      *prometheus.HistogramVec
	nodeRetries      *prometheus.CounterVec
	executionsTotal  *prometheus.CounterVec
}

// NewMetrics registers all engine metrics with registry. A nil registry
// uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		activeExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchflow",
			Name:      "active_executions",
			Help:      "Number of workflow executions currently in flight",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchflow",
			Name:      "queue_depth",
			Help:      "Number of executions waiting in the priority queue",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchflow",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
		}, []string{"node_type", "status"}),
		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchflow",
			Name:      "node_retries_total",
			Help:      "Cumulative node retry attempts",
		}, []string{"node_type"}),
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchflow",
			Name:      "executions_total",
			Help:      "Total completed executions by terminal status",
		}, []string{"status"}),
	}
}

func (m *Metrics) setActiveExecutions(n int) {
	if m == nil {
		return
	}
	m.activeExecutions.Set(float64(n))
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) observeNodeLatency(nodeType NodeType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeLatency.WithLabelValues(string(nodeType), status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) incRetry(nodeType NodeType) {
	if m == nil {
		return
	}
	m.nodeRetries.WithLabelValues(string(nodeType)).Inc()
}

func (m *Metrics) incExecution(status ExecutionStatus) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(string(status)).Inc()
}
