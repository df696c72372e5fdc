// Package metrics declares the observability interfaces the orchestrator's
// components accept. Each interface is optional: a nil value disables
// collection with zero overhead, the same contract the teacher's
// pkg/metrics/{cache,s3,nfs}.go establish for their own subsystems.
//
// Concrete Prometheus-backed implementations live in pkg/metrics/prometheus
// to keep this package free of the client_golang dependency for callers
// that only need the interface.
package metrics

import "time"

// DispatchMetrics observes the Job Dispatcher (spec §4.1 C6): per-queue
// depth, task duration by outcome, and redelivery/retry counts.
type DispatchMetrics interface {
	// RecordTaskStarted increments the in-flight gauge for queue/kind.
	RecordTaskStarted(queue, kind string)

	// RecordTaskFinished records a completed task's duration and outcome
	// ("succeeded" or "failed") and decrements the in-flight gauge.
	RecordTaskFinished(queue, kind, outcome string, duration time.Duration)

	// RecordRetry records a task being returned to its queue for retry,
	// tagged with the redelivery count it had reached.
	RecordRetry(queue, kind string, redeliveries int)

	// SetQueueDepth records the current number of queued (not in-flight)
	// jobs for queue.
	SetQueueDepth(queue string, depth int64)
}

// RecordTaskStarted is a nil-safe helper so callers can hold a possibly-nil
// DispatchMetrics without branching at every call site.
func RecordTaskStarted(m DispatchMetrics, queue, kind string) {
	if m != nil {
		m.RecordTaskStarted(queue, kind)
	}
}

// RecordTaskFinished is the nil-safe counterpart to RecordTaskStarted.
func RecordTaskFinished(m DispatchMetrics, queue, kind, outcome string, duration time.Duration) {
	if m != nil {
		m.RecordTaskFinished(queue, kind, outcome, duration)
	}
}

// RecordRetry is the nil-safe counterpart to DispatchMetrics.RecordRetry.
func RecordRetry(m DispatchMetrics, queue, kind string, redeliveries int) {
	if m != nil {
		m.RecordRetry(queue, kind, redeliveries)
	}
}

// SetQueueDepth is the nil-safe counterpart to DispatchMetrics.SetQueueDepth.
func SetQueueDepth(m DispatchMetrics, queue string, depth int64) {
	if m != nil {
		m.SetQueueDepth(queue, depth)
	}
}
