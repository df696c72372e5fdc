// Package broker defines the durable job queue abstraction used by the Job
// Dispatcher (spec §4.1 C6): named queues (gpu, cpu, nlp, download, utility),
// at-least-once delivery, and redelivery-count visibility for retry policy.
package broker

import (
	"context"
	"errors"
	"time"
)

// Queue names match the execution-resource classes a task can require.
const (
	QueueGPU      = "gpu"
	QueueCPU      = "cpu"
	QueueNLP      = "nlp"
	QueueDownload = "download"
	QueueUtility  = "utility"
)

// ErrEmpty is returned by Pop when no job is currently available.
var ErrEmpty = errors.New("broker: queue empty")

// Job is a unit of work enqueued onto a named queue. Payload is opaque to
// the broker; the dispatcher decodes it per TaskKind.
type Job struct {
	ID            string
	Queue         string
	Payload       []byte
	EnqueuedAt    time.Time
	Redeliveries  int
	CancelRequest bool
}

// Broker is the durable queue contract. Implementations must guarantee
// at-least-once delivery: a job is not considered delivered until the
// consumer explicitly Acks it, and a job whose visibility window elapses
// without an Ack is redelivered with Redeliveries incremented.
type Broker interface {
	// Push enqueues payload onto queue and returns the generated job ID.
	Push(ctx context.Context, queue string, payload []byte) (string, error)

	// Pop dequeues the next available job from queue, waiting a bounded
	// time for one to arrive. Returns ErrEmpty when that wait ends with
	// nothing popped, so callers poll in a loop. visibility is how long the
	// popped job stays claimed before it can be reclaimed.
	Pop(ctx context.Context, queue string, visibility time.Duration) (*Job, error)

	// Ack marks a job as successfully processed, removing it permanently.
	Ack(ctx context.Context, queue, jobID string) error

	// Nack returns a job to the queue immediately for redelivery, used when
	// a worker detects a retryable failure before its visibility window
	// would otherwise expire.
	Nack(ctx context.Context, queue, jobID string) error

	// RequestCancel flags jobID so a worker checking CancelRequest mid-run
	// can stop cooperatively (spec §4.8 cancellation).
	RequestCancel(ctx context.Context, queue, jobID string) error

	// Depth returns the number of jobs currently queued (not in-flight).
	Depth(ctx context.Context, queue string) (int64, error)

	// Healthcheck verifies the broker backend is reachable.
	Healthcheck(ctx context.Context) error

	Close() error
}
