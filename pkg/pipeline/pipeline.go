// Package pipeline defines the shared contract for the Stage Pipelines
// (spec §4.7 C7): deterministic functions of an input row plus model
// configuration, reporting progress through a ProgressSink and never
// mutating store rows directly — all state transitions flow through the
// Task Lifecycle Manager.
package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ProgressSink receives fractional progress within one named stage.
type ProgressSink interface {
	Report(ctx context.Context, stage string, fraction float64, message string) error
}

// ProgressSinkFunc adapts a plain function to ProgressSink.
type ProgressSinkFunc func(ctx context.Context, stage string, fraction float64, message string) error

func (f ProgressSinkFunc) Report(ctx context.Context, stage string, fraction float64, message string) error {
	return f(ctx, stage, fraction, message)
}

// FailureClass discriminates a pipeline failure for the dispatcher's retry
// policy (spec §4.7).
type FailureClass int

const (
	FailureUnknown FailureClass = iota
	FailureTransientInfra
	FailureInputQuality
	FailureModelAuth
	FailureCancelled
)

// Retryable reports whether the Job Dispatcher should requeue on this class.
func (c FailureClass) Retryable() bool {
	return c == FailureTransientInfra
}

func (c FailureClass) String() string {
	switch c {
	case FailureTransientInfra:
		return "transient_infra"
	case FailureInputQuality:
		return "input_quality"
	case FailureModelAuth:
		return "model_auth"
	case FailureCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps a pipeline failure with its class so callers can decide
// retryability without string matching.
type Error struct {
	Class FailureClass
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %s (%s)", e.Stage, e.Err, e.Class)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(stage string, class FailureClass, err error) *Error {
	return &Error{Stage: stage, Class: class, Err: err}
}

// ErrCancelled is returned by a stage when it observes a cancellation
// request at a suspension point.
var ErrCancelled = errors.New("pipeline: cancellation requested")

// CancelChecker is consulted at each suspension point so a long-running
// stage can abort cleanly (spec §4.6 "cooperative cancellation").
type CancelChecker func(ctx context.Context) (bool, error)
