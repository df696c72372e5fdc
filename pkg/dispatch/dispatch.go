// Package dispatch implements the Job Dispatcher (spec §4.1 C6): a worker
// pool per queue that pulls jobs from the broker, invokes the handler
// registered for the job's task kind, and reports outcome back through the
// caller-supplied Reporter.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opentranscribe/mpo/pkg/broker"
	"github.com/opentranscribe/mpo/pkg/metrics"
	"github.com/opentranscribe/mpo/pkg/pipeline"
)

// Handler executes one task. It should poll ctx for cancellation and call
// Reporter.Progress periodically for long-running work. Returning an error
// marks the task failed; the job is requeued unless the error is a
// cancellation or a *pipeline.Error whose FailureClass is not retryable.
type Handler func(ctx context.Context, job Job, report ProgressFunc) error

// ProgressFunc reports fractional completion (0..1) for the running job.
type ProgressFunc func(ctx context.Context, fraction float64) error

// Job is the decoded unit of work a Handler receives.
type Job struct {
	ID            string
	TaskID        string
	FileID        string
	Kind          string
	Queue         string
	Redeliveries  int
	CancelRequest bool
	Payload       json.RawMessage
}

// Reporter is notified of task lifecycle transitions so the dispatcher stays
// decoupled from the metadata store and notification bus packages.
type Reporter interface {
	Started(ctx context.Context, job Job) error
	Progress(ctx context.Context, job Job, fraction float64) error
	Succeeded(ctx context.Context, job Job) error
	Failed(ctx context.Context, job Job, err error, retryable bool) error
}

// QueueConfig sets the worker concurrency for a single queue.
type QueueConfig struct {
	Queue       string
	Concurrency int
	Visibility  time.Duration
}

// Dispatcher owns one worker pool per configured queue.
type Dispatcher struct {
	b        broker.Broker
	reporter Reporter
	handlers map[string]Handler
	queues   []QueueConfig
	metrics  metrics.DispatchMetrics

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Dispatcher over b. Register handlers with RegisterHandler
// before calling Run.
func New(b broker.Broker, reporter Reporter, queues []QueueConfig) *Dispatcher {
	return &Dispatcher{
		b:        b,
		reporter: reporter,
		handlers: make(map[string]Handler),
		queues:   queues,
	}
}

// RegisterHandler binds kind (a models.TaskKind string value) to fn.
func (d *Dispatcher) RegisterHandler(kind string, fn Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = fn
}

// SetMetrics attaches m so every subsequent task execution and queue-depth
// poll reports through it. Passing nil disables collection; the zero value
// (no call to SetMetrics) has the same effect.
func (d *Dispatcher) SetMetrics(m metrics.DispatchMetrics) {
	d.metrics = m
}

// Enqueue submits a new job payload onto queue and returns the broker job ID.
func (d *Dispatcher) Enqueue(ctx context.Context, queue string, job Job) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("dispatch: marshal job: %w", err)
	}
	return d.b.Push(ctx, queue, payload)
}

// RequestCancel flags a queued or in-flight job for cooperative cancellation.
func (d *Dispatcher) RequestCancel(ctx context.Context, queue, jobID string) error {
	return d.b.RequestCancel(ctx, queue, jobID)
}

// Run starts one worker pool per configured queue and blocks until ctx is
// cancelled, then waits for in-flight jobs to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("dispatch: already running")
	}
	d.started = true
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	for _, qc := range d.queues {
		for i := 0; i < qc.Concurrency; i++ {
			d.wg.Add(1)
			go d.worker(runCtx, qc)
		}
	}

	if d.metrics != nil {
		d.wg.Add(1)
		go d.pollQueueDepths(runCtx)
	}

	<-runCtx.Done()
	d.wg.Wait()
	return nil
}

// pollQueueDepths periodically reports each configured queue's depth so the
// gauge reflects backlog even when no worker happens to be mid-Pop.
func (d *Dispatcher) pollQueueDepths(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, qc := range d.queues {
				depth, err := d.b.Depth(ctx, qc.Queue)
				if err != nil {
					continue
				}
				d.metrics.SetQueueDepth(qc.Queue, depth)
			}
		}
	}
}

// Stop cancels the run loop and waits for workers to drain.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, qc QueueConfig) {
	defer d.wg.Done()
	visibility := qc.Visibility
	if visibility == 0 {
		visibility = 5 * time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		bj, err := d.b.Pop(ctx, qc.Queue, visibility)
		if errors.Is(err, broker.ErrEmpty) {
			continue
		}
		if err != nil {
			continue
		}
		d.process(ctx, qc.Queue, bj)
	}
}

func (d *Dispatcher) process(ctx context.Context, queue string, bj *broker.Job) {
	var job Job
	if err := json.Unmarshal(bj.Payload, &job); err != nil {
		_ = d.b.Ack(ctx, queue, bj.ID)
		return
	}
	job.ID = bj.ID
	job.Redeliveries = bj.Redeliveries
	job.Queue = queue
	job.CancelRequest = bj.CancelRequest

	d.mu.Lock()
	handler, ok := d.handlers[job.Kind]
	d.mu.Unlock()
	if !ok {
		_ = d.reporter.Failed(ctx, job, fmt.Errorf("dispatch: no handler for kind %q", job.Kind), false)
		_ = d.b.Ack(ctx, queue, bj.ID)
		return
	}

	if err := d.reporter.Started(ctx, job); err != nil {
		_ = d.b.Nack(ctx, queue, bj.ID)
		return
	}
	metrics.RecordTaskStarted(d.metrics, queue, job.Kind)
	start := time.Now()

	report := func(ctx context.Context, fraction float64) error {
		return d.reporter.Progress(ctx, job, fraction)
	}

	runErr := handler(ctx, job, report)
	if runErr != nil {
		retryable := !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, pipeline.ErrCancelled)
		var perr *pipeline.Error
		if retryable && errors.As(runErr, &perr) {
			retryable = perr.Class.Retryable()
		}
		_ = d.reporter.Failed(ctx, job, runErr, retryable)
		if retryable {
			_ = d.b.Nack(ctx, queue, bj.ID)
			metrics.RecordRetry(d.metrics, queue, job.Kind, job.Redeliveries)
		} else {
			_ = d.b.Ack(ctx, queue, bj.ID)
		}
		metrics.RecordTaskFinished(d.metrics, queue, job.Kind, "failed", time.Since(start))
		return
	}

	_ = d.reporter.Succeeded(ctx, job)
	_ = d.b.Ack(ctx, queue, bj.ID)
	metrics.RecordTaskFinished(d.metrics, queue, job.Kind, "succeeded", time.Since(start))
}
