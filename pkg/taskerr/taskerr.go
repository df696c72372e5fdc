// Package taskerr provides a task error taxonomy, used by the ingest
// coordinator's safe-delete path and the file API handler, grounded on the teacher's
// PayloadError: sentinel errors wrapped with structured operational
// context, preserving errors.Is()/errors.As() against the sentinel.
package taskerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the failure taxonomy from spec §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientInfra
	KindInputQuality
	KindModelAuth
	KindCancelled
	KindConflict
	KindFileNotSafeToDelete
)

func (k Kind) String() string {
	switch k {
	case KindTransientInfra:
		return "transient_infra"
	case KindInputQuality:
		return "input_quality"
	case KindModelAuth:
		return "model_auth"
	case KindCancelled:
		return "cancelled"
	case KindConflict:
		return "conflict"
	case KindFileNotSafeToDelete:
		return "file_not_safe_to_delete"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind is retryable; only
// KindTransientInfra is. The Job Dispatcher does not consult it.
func (k Kind) Retryable() bool { return k == KindTransientInfra }

var (
	ErrConflict            = errors.New("task: state changed concurrently")
	ErrFileNotSafeToDelete = errors.New("task: file not safe to delete")
	ErrCancelled           = errors.New("task: cancellation requested")
)

// TaskError wraps a sentinel error with the operation, file and task it
// occurred against.
type TaskError struct {
	Op     string
	Kind   Kind
	FileID string
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %s (file=%s, task=%s, kind=%s)", e.Op, e.Err, e.FileID, e.TaskID, e.Kind)
}

func (e *TaskError) Unwrap() error { return e.Err }

// New wraps err with operational context.
func New(op string, kind Kind, fileID, taskID string, err error) *TaskError {
	return &TaskError{Op: op, Kind: kind, FileID: fileID, TaskID: taskID, Err: err}
}
