// Package lifecycle implements the Task Lifecycle Manager (spec §4.8 C8):
// the sole writer of MediaFile and Task state transitions, bridging the Job
// Dispatcher's generic Reporter callbacks to the metadata store and the
// notification bus. Stage pipelines compute results; only the TLM persists
// them into the file state machine.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opentranscribe/mpo/internal/logger"
	"github.com/opentranscribe/mpo/pkg/dispatch"
	"github.com/opentranscribe/mpo/pkg/pipeline"
	"github.com/opentranscribe/mpo/pkg/store"
	"github.com/opentranscribe/mpo/pkg/store/models"
)

// Event is a notification-bus envelope describing one lifecycle transition.
// Silent marks background keep-alive/progress ticks so a client can update
// its own state without surfacing a toast or badge (spec §4.9).
type Event struct {
	Type   string
	FileID string
	TaskID string
	Data   map[string]any
	Silent bool
}

// Notifier publishes lifecycle events to a user's connected clients. The TLM
// depends on this narrow interface rather than the full notification bus so
// it stays testable without a websocket hub.
type Notifier interface {
	Publish(ctx context.Context, owner string, event Event) error
}

// Enqueuer is the subset of *dispatch.Dispatcher the TLM needs to signal
// cooperative cancellation against an in-flight job.
type Enqueuer interface {
	RequestCancel(ctx context.Context, queue, jobID string) error
}

const (
	minProgressInterval = 250 * time.Millisecond
	minProgressDelta    = 0.01
)

type trackedTask struct {
	owner    string
	queue    string
	jobID    string
	at       time.Time
	fraction float64
}

// analyticsStore is the subset of store.Store the TLM needs for its
// overwrite-on-rerun result tables: Summary/Analytics plus the
// waveform/thumbnail status sidecar.
type analyticsStore interface {
	store.AnalyticsStore
	store.DerivedArtifactStore
}

// Manager is the Task Lifecycle Manager. It implements dispatch.Reporter.
type Manager struct {
	files      store.MediaFileStore
	tasks      store.TaskStore
	analytics  analyticsStore
	dispatcher Enqueuer
	notifier   Notifier

	mu      sync.Mutex
	running map[string]*trackedTask // keyed by TaskID
}

// New builds a Manager. notifier may be nil, in which case events are
// dropped; dispatcher may be nil, in which case RequestCancellation only
// updates the store and cannot signal an in-flight worker.
func New(files store.MediaFileStore, tasks store.TaskStore, analytics analyticsStore, dispatcher Enqueuer, notifier Notifier) *Manager {
	return &Manager{
		files:      files,
		tasks:      tasks,
		analytics:  analytics,
		dispatcher: dispatcher,
		notifier:   notifier,
		running:    make(map[string]*trackedTask),
	}
}

var _ dispatch.Reporter = (*Manager)(nil)

// Started performs Pending/Error→Processing and records enough about the
// running job to later support cancellation and progress rate-limiting.
func (m *Manager) Started(ctx context.Context, job dispatch.Job) error {
	if err := m.files.TransitionToProcessing(ctx, job.FileID, job.TaskID); err != nil {
		return err
	}
	if err := m.tasks.UpdateTaskStatus(ctx, job.TaskID, models.TaskStatusRunning, 0, ""); err != nil {
		logger.Warn("lifecycle: update task status to running failed", "task_id", job.TaskID, "error", err)
	}

	owner := m.fileOwner(ctx, job.FileID)
	m.mu.Lock()
	m.running[job.TaskID] = &trackedTask{owner: owner, queue: job.Queue, jobID: job.ID, at: time.Now()}
	m.mu.Unlock()

	m.publish(ctx, owner, job, "task.started", nil)
	return nil
}

// Progress rate-limits and forwards fractional completion (spec §4.8): an
// update is written once 250ms have passed or progress has moved by 1
// percentage point since the last write, whichever comes first.
func (m *Manager) Progress(ctx context.Context, job dispatch.Job, fraction float64) error {
	if !m.shouldReport(job.TaskID, fraction) {
		return nil
	}

	if err := m.files.UpdateProgress(ctx, job.FileID, job.TaskID); err != nil {
		logger.Warn("lifecycle: update progress failed", "task_id", job.TaskID, "error", err)
	}
	if err := m.tasks.UpdateTaskStatus(ctx, job.TaskID, models.TaskStatusRunning, fraction, ""); err != nil {
		logger.Warn("lifecycle: update task progress failed", "task_id", job.TaskID, "error", err)
	}

	owner := m.trackedOwner(job.TaskID)
	m.publishSilent(ctx, owner, job, "task.progress", map[string]any{"fraction": fraction})
	return nil
}

// Succeeded finalizes the Task audit row. The file's own state transition
// (Processing→Completed) has already been performed by the handler through
// a kind-specific Complete* call before returning nil to the dispatcher.
func (m *Manager) Succeeded(ctx context.Context, job dispatch.Job) error {
	owner := m.untrack(job.TaskID)
	if err := m.tasks.UpdateTaskStatus(ctx, job.TaskID, models.TaskStatusSucceeded, 1, ""); err != nil {
		logger.Warn("lifecycle: update task status to succeeded failed", "task_id", job.TaskID, "error", err)
	}
	m.publish(ctx, owner, job, "task.succeeded", nil)
	return nil
}

// CompleteTranscription performs the file's Processing→Completed transition
// and persists its segments and speakers in one transaction (spec §4.7 step
// 5). Handlers for TaskKindTranscription call this before returning nil, so
// Succeeded only has bookkeeping left to do.
func (m *Manager) CompleteTranscription(ctx context.Context, job dispatch.Job, durationSec float64, segments []*models.TranscriptSegment, speakers []*models.Speaker) error {
	if err := m.files.TransitionToCompleted(ctx, job.FileID, job.TaskID, durationSec, segments, speakers); err != nil {
		return err
	}
	owner := m.trackedOwner(job.TaskID)
	m.publish(ctx, owner, job, "file.transcribed", map[string]any{
		"segment_count": len(segments),
		"speaker_count": len(speakers),
	})
	return nil
}

// CompleteSummarization upserts the file's Summary row. Unlike
// transcription, summarization doesn't move the MediaFile state machine —
// a file stays Completed while its summary is (re)computed independently.
func (m *Manager) CompleteSummarization(ctx context.Context, job dispatch.Job, summary *models.Summary) error {
	if err := m.analytics.UpsertSummary(ctx, summary); err != nil {
		return err
	}
	owner := m.trackedOwner(job.TaskID)
	m.publish(ctx, owner, job, "file.summarized", map[string]any{"status": string(summary.Status)})
	return nil
}

// CompleteAnalytics upserts the file's Analytics row.
func (m *Manager) CompleteAnalytics(ctx context.Context, job dispatch.Job, analytics *models.Analytics) error {
	if err := m.analytics.UpsertAnalytics(ctx, analytics); err != nil {
		return err
	}
	owner := m.trackedOwner(job.TaskID)
	m.publish(ctx, owner, job, "file.analyzed", map[string]any{"turn_count": analytics.TurnCount})
	return nil
}

// CompleteDerivedArtifact upserts a waveform or thumbnail status sidecar.
// Like CompleteSummarization, it doesn't move the MediaFile state machine:
// utility jobs produce by-products independently of the file's own
// Processing→Completed transition.
func (m *Manager) CompleteDerivedArtifact(ctx context.Context, job dispatch.Job, artifact *models.DerivedArtifact) error {
	if err := m.analytics.UpsertDerivedArtifact(ctx, artifact); err != nil {
		return err
	}
	owner := m.trackedOwner(job.TaskID)
	m.publish(ctx, owner, job, "file.derived_artifact", map[string]any{
		"role":   string(artifact.Role),
		"status": string(artifact.Status),
	})
	return nil
}

// Failed classifies the failure, moves the file to Error (or back to
// Pending for a retry, per TransitionToError's own policy) and finalizes
// the Task row.
//
// retryable is the dispatcher's verdict. Cancellation and a pipeline.Error's
// own FailureClass (spec §4.7) are re-checked here the same way, so the
// file's transition agrees with whether the job was requeued.
func (m *Manager) Failed(ctx context.Context, job dispatch.Job, runErr error, retryable bool) error {
	owner := m.untrack(job.TaskID)

	status := models.TaskStatusFailed
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, pipeline.ErrCancelled) {
		status = models.TaskStatusCancelled
		retryable = false
	} else {
		var perr *pipeline.Error
		if errors.As(runErr, &perr) {
			retryable = perr.Class.Retryable()
		}
	}

	message := runErr.Error()
	if err := m.files.TransitionToError(ctx, job.FileID, job.TaskID, message, retryable); err != nil {
		logger.Error("lifecycle: transition to error failed", "task_id", job.TaskID, "file_id", job.FileID, "error", err)
	}
	if err := m.tasks.UpdateTaskStatus(ctx, job.TaskID, status, 0, message); err != nil {
		logger.Warn("lifecycle: update task status to failed failed", "task_id", job.TaskID, "error", err)
	}

	// TODO: broker.Nack requeues immediately on any retryable failure; an
	// exponential backoff (base * 2^Redeliveries) would need a delayed-
	// visibility variant of Nack, which the current broker interface lacks.
	m.publish(ctx, owner, job, "task.failed", map[string]any{"error": message, "retryable": retryable})
	return nil
}

// RequestCancellation moves fileID's active task from Processing to
// Cancelling and, if the owning job is currently tracked as running,
// signals the worker to stop cooperatively.
func (m *Manager) RequestCancellation(ctx context.Context, fileID, taskID string) error {
	if err := m.files.RequestCancellation(ctx, fileID); err != nil {
		return err
	}

	m.mu.Lock()
	t, ok := m.running[taskID]
	m.mu.Unlock()
	if !ok || m.dispatcher == nil {
		return nil
	}
	return m.dispatcher.RequestCancel(ctx, t.queue, t.jobID)
}

func (m *Manager) shouldReport(taskID string, fraction float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.running[taskID]
	if !ok {
		return true
	}
	now := time.Now()
	if now.Sub(t.at) < minProgressInterval && fraction-t.fraction < minProgressDelta {
		return false
	}
	t.at = now
	t.fraction = fraction
	return true
}

func (m *Manager) untrack(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.running[taskID]
	delete(m.running, taskID)
	if !ok {
		return ""
	}
	return t.owner
}

func (m *Manager) trackedOwner(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.running[taskID]; ok {
		return t.owner
	}
	return ""
}

func (m *Manager) fileOwner(ctx context.Context, fileID string) string {
	file, err := m.files.GetFile(ctx, fileID)
	if err != nil {
		return ""
	}
	return file.Owner
}

func (m *Manager) publish(ctx context.Context, owner string, job dispatch.Job, eventType string, data map[string]any) {
	m.doPublish(ctx, owner, job, eventType, data, false)
}

func (m *Manager) publishSilent(ctx context.Context, owner string, job dispatch.Job, eventType string, data map[string]any) {
	m.doPublish(ctx, owner, job, eventType, data, true)
}

func (m *Manager) doPublish(ctx context.Context, owner string, job dispatch.Job, eventType string, data map[string]any, silent bool) {
	if m.notifier == nil || owner == "" {
		return
	}
	event := Event{Type: eventType, FileID: job.FileID, TaskID: job.TaskID, Data: data, Silent: silent}
	if err := m.notifier.Publish(ctx, owner, event); err != nil {
		logger.Warn("lifecycle: publish event failed", "task_id", job.TaskID, "event", eventType, "error", err)
	}
}
