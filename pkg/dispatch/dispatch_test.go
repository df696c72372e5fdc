package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/opentranscribe/mpo/pkg/broker/redisqueue"
)

type fakeDispatchMetrics struct {
	mu        sync.Mutex
	started   int
	finished  map[string]int
	retries   int
	lastDepth int64
}

func (f *fakeDispatchMetrics) RecordTaskStarted(queue, kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeDispatchMetrics) RecordTaskFinished(queue, kind, outcome string, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished == nil {
		f.finished = make(map[string]int)
	}
	f.finished[outcome]++
}

func (f *fakeDispatchMetrics) RecordRetry(queue, kind string, redeliveries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
}

func (f *fakeDispatchMetrics) SetQueueDepth(queue string, depth int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastDepth = depth
}

type recordingReporter struct {
	mu        sync.Mutex
	succeeded []string
	failed    []string
}

func (r *recordingReporter) Started(ctx context.Context, job Job) error { return nil }
func (r *recordingReporter) Progress(ctx context.Context, job Job, fraction float64) error {
	return nil
}
func (r *recordingReporter) Succeeded(ctx context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded = append(r.succeeded, job.TaskID)
	return nil
}
func (r *recordingReporter) Failed(ctx context.Context, job Job, err error, retryable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, job.TaskID)
	return nil
}

func newTestDispatcher(t *testing.T, reporter Reporter, queues []QueueConfig) (*Dispatcher, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := redisqueue.New(rdb, "disp-test")
	d := New(b, reporter, queues)
	return d, func() { rdb.Close(); mr.Close() }
}

func TestDispatcherRunsRegisteredHandler(t *testing.T) {
	reporter := &recordingReporter{}
	d, cleanup := newTestDispatcher(t, reporter, []QueueConfig{{Queue: "cpu", Concurrency: 2, Visibility: time.Second}})
	defer cleanup()

	done := make(chan struct{})
	d.RegisterHandler("waveform", func(ctx context.Context, job Job, report ProgressFunc) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Run(ctx) }()

	taskID := uuid.New().String()
	if _, err := d.Enqueue(context.Background(), "cpu", Job{ID: uuid.New().String(), TaskID: taskID, Kind: "waveform"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never ran")
	}

	cancel()
	d.Stop()

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	if len(reporter.succeeded) != 1 || reporter.succeeded[0] != taskID {
		t.Fatalf("expected one success for %s, got %+v", taskID, reporter.succeeded)
	}
}

func TestDispatcherPropagatesBrokerSideCancelRequest(t *testing.T) {
	reporter := &recordingReporter{}
	d, cleanup := newTestDispatcher(t, reporter, []QueueConfig{{Queue: "cpu", Concurrency: 1, Visibility: time.Second}})
	defer cleanup()

	seen := make(chan bool, 1)
	d.RegisterHandler("waveform", func(ctx context.Context, job Job, report ProgressFunc) error {
		seen <- job.CancelRequest
		return nil
	})

	jobID := uuid.New().String()
	if _, err := d.Enqueue(context.Background(), "cpu", Job{ID: jobID, TaskID: uuid.New().String(), Kind: "waveform"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := d.RequestCancel(context.Background(), "cpu", jobID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Run(ctx) }()
	defer func() { cancel(); d.Stop() }()

	select {
	case got := <-seen:
		if !got {
			t.Fatal("expected job.CancelRequest to be true after RequestCancel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestDispatcherRecordsTaskMetricsOnSuccess(t *testing.T) {
	reporter := &recordingReporter{}
	d, cleanup := newTestDispatcher(t, reporter, []QueueConfig{{Queue: "cpu", Concurrency: 1, Visibility: time.Second}})
	defer cleanup()

	fm := &fakeDispatchMetrics{}
	d.SetMetrics(fm)

	done := make(chan struct{})
	d.RegisterHandler("waveform", func(ctx context.Context, job Job, report ProgressFunc) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Run(ctx) }()

	if _, err := d.Enqueue(context.Background(), "cpu", Job{ID: uuid.New().String(), TaskID: uuid.New().String(), Kind: "waveform"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never ran")
	}

	cancel()
	d.Stop()

	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.started != 1 {
		t.Fatalf("expected 1 task started, got %d", fm.started)
	}
	if fm.finished["succeeded"] != 1 {
		t.Fatalf("expected 1 succeeded task, got %+v", fm.finished)
	}
}

func TestDispatcherFailsUnknownKind(t *testing.T) {
	reporter := &recordingReporter{}
	d, cleanup := newTestDispatcher(t, reporter, []QueueConfig{{Queue: "cpu", Concurrency: 1, Visibility: time.Second}})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Run(ctx) }()
	defer func() { cancel(); d.Stop() }()

	taskID := uuid.New().String()
	if _, err := d.Enqueue(context.Background(), "cpu", Job{ID: uuid.New().String(), TaskID: taskID, Kind: "unregistered"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		reporter.mu.Lock()
		n := len(reporter.failed)
		reporter.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected failure report for unknown kind")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
