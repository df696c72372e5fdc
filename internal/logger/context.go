package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// taskContextKey is the key for TaskContext in context.Context
var taskContextKey = contextKey{}

// TaskContext holds task-scoped logging context, carried over a
// context.Context for the lifetime of one dispatched job.
type TaskContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	FileID    string    // MediaFile id the task operates on
	TaskID    string    // Task id
	Owner     string    // Owning user id
	Queue     string    // Broker queue the job was popped from
	Stage     string    // Current pipeline stage name
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given TaskContext
func WithContext(ctx context.Context, lc *TaskContext) context.Context {
	return context.WithValue(ctx, taskContextKey, lc)
}

// FromContext retrieves the TaskContext from context, or nil if not present
func FromContext(ctx context.Context) *TaskContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(taskContextKey).(*TaskContext)
	return lc
}

// NewTaskContext creates a new TaskContext for a dispatched job.
func NewTaskContext(fileID, taskID, owner string) *TaskContext {
	return &TaskContext{
		FileID:    fileID,
		TaskID:    taskID,
		Owner:     owner,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the TaskContext
func (lc *TaskContext) Clone() *TaskContext {
	if lc == nil {
		return nil
	}
	return &TaskContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		FileID:    lc.FileID,
		TaskID:    lc.TaskID,
		Owner:     lc.Owner,
		Queue:     lc.Queue,
		Stage:     lc.Stage,
		StartTime: lc.StartTime,
	}
}

// WithQueue returns a copy with the broker queue set
func (lc *TaskContext) WithQueue(queue string) *TaskContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Queue = queue
	}
	return clone
}

// WithStage returns a copy with the current pipeline stage set
func (lc *TaskContext) WithStage(stage string) *TaskContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Stage = stage
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *TaskContext) WithTrace(traceID, spanID string) *TaskContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *TaskContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
