package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for workflow execution, namespaced
// with "workflow_".
//
// Exposed series:
//
//   - runs_total (counter): finished runs by terminal status
//     (succeeded / partial_succeeded / failed / stopped).
//   - run_duration_seconds (histogram): wall-clock run duration by status.
//   - node_duration_seconds (histogram): node visit duration by node type
//     and outcome (succeeded / failed / exception).
//   - node_retries_total (counter): retry attempts by node type.
//   - inflight_branches (gauge): parallel branches currently executing.
//   - pool_rejections_total (counter): branch submissions rejected by the
//     worker pool submit cap.
//
// All methods are nil-safe so the engine can run unmetered.
type Metrics struct {
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	nodeDuration   *prometheus.HistogramVec
	nodeRetries    *prometheus.CounterVec
	inflightBranch prometheus.Gauge
	poolRejections prometheus.Counter
}

// NewMetrics registers the workflow metric series with the given
// registerer. Pass prometheus.DefaultRegisterer for the process default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "runs_total",
			Help:      "Finished workflow runs by terminal status.",
		}, []string{"status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock workflow run duration.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1200},
		}, []string{"status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow",
			Name:      "node_duration_seconds",
			Help:      "Node visit duration by node type and outcome.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60},
		}, []string{"node_type", "status"}),
		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "node_retries_total",
			Help:      "Retry attempts by node type.",
		}, []string{"node_type"}),
		inflightBranch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "workflow",
			Name:      "inflight_branches",
			Help:      "Parallel branches currently executing.",
		}),
		poolRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "pool_rejections_total",
			Help:      "Branch submissions rejected by the worker pool cap.",
		}),
	}
}

func (m *Metrics) runFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) nodeFinished(nodeType NodeType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(string(nodeType), status).Observe(d.Seconds())
}

func (m *Metrics) nodeRetried(nodeType NodeType) {
	if m == nil {
		return
	}
	m.nodeRetries.WithLabelValues(string(nodeType)).Inc()
}

func (m *Metrics) branchStarted() {
	if m == nil {
		return
	}
	m.inflightBranch.Inc()
}

func (m *Metrics) branchFinished() {
	if m == nil {
		return
	}
	m.inflightBranch.Dec()
}

func (m *Metrics) poolRejected() {
	if m == nil {
		return
	}
	m.poolRejections.Inc()
}
