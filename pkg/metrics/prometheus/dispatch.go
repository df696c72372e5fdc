// Package prometheus provides Prometheus-backed implementations of the
// pkg/metrics interfaces, grounded on the teacher's pkg/metrics/prometheus
// package: one promauto-registered metric set per subsystem, constructed
// once at wiring time and passed down as a plain interface value.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opentranscribe/mpo/pkg/metrics"
)

// dispatchMetrics is the Prometheus implementation of metrics.DispatchMetrics.
type dispatchMetrics struct {
	inFlight     *prometheus.GaugeVec
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	retriesTotal *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
}

// NewDispatchMetrics registers and returns a Prometheus-backed
// metrics.DispatchMetrics on reg. Pass prometheus.DefaultRegisterer to
// expose it on the process's default /metrics endpoint.
func NewDispatchMetrics(reg prometheus.Registerer) metrics.DispatchMetrics {
	return &dispatchMetrics{
		inFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "otx_dispatch_tasks_in_flight",
				Help: "Number of tasks currently being processed, by queue and kind.",
			},
			[]string{"queue", "kind"},
		),
		tasksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "otx_dispatch_tasks_total",
				Help: "Total number of tasks that finished processing, by queue, kind, and outcome.",
			},
			[]string{"queue", "kind", "outcome"},
		),
		taskDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "otx_dispatch_task_duration_seconds",
				Help: "Duration of a single task execution, by queue and kind.",
				Buckets: []float64{
					1, 5, 15, 30, 60, 180, 300, 600, 1800, 3600,
				},
			},
			[]string{"queue", "kind"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "otx_dispatch_retries_total",
				Help: "Total number of times a task was returned to its queue for redelivery.",
			},
			[]string{"queue", "kind"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "otx_dispatch_queue_depth",
				Help: "Number of jobs currently queued (not in-flight) per queue.",
			},
			[]string{"queue"},
		),
	}
}

func (m *dispatchMetrics) RecordTaskStarted(queue, kind string) {
	m.inFlight.WithLabelValues(queue, kind).Inc()
}

func (m *dispatchMetrics) RecordTaskFinished(queue, kind, outcome string, duration time.Duration) {
	m.inFlight.WithLabelValues(queue, kind).Dec()
	m.tasksTotal.WithLabelValues(queue, kind, outcome).Inc()
	m.taskDuration.WithLabelValues(queue, kind).Observe(duration.Seconds())
}

func (m *dispatchMetrics) RecordRetry(queue, kind string, redeliveries int) {
	m.retriesTotal.WithLabelValues(queue, kind).Inc()
}

func (m *dispatchMetrics) SetQueueDepth(queue string, depth int64) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

var _ metrics.DispatchMetrics = (*dispatchMetrics)(nil)
