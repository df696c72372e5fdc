package models

import "time"

// TaskKind identifies which stage pipeline a task runs.
type TaskKind string

const (
	TaskKindTranscription TaskKind = "transcription"
	TaskKindSummarization  TaskKind = "summarization"
	TaskKindAnalytics      TaskKind = "analytics"
	TaskKindURLIngest      TaskKind = "url_ingest"
	TaskKindWaveform       TaskKind = "waveform"
	TaskKindReindex        TaskKind = "reindex"
)

// TaskStatus is the lifecycle of one dispatcher-issued run.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status ends the task's run.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is one execution of a pipeline for one file. The id is supplied by
// the broker, not generated here — Task rows are an audit trail, retained
// after their run completes.
type Task struct {
	ID       string  `gorm:"primaryKey;size:64" json:"id"`
	Owner    string  `gorm:"not null;size:255;index" json:"owner"`
	FileID   *string `gorm:"size:36;index" json:"file_id"`
	Kind     TaskKind `gorm:"not null;size:32" json:"kind"`
	Status   TaskStatus `gorm:"not null;size:32" json:"status"`
	Progress float64  `gorm:"default:0" json:"progress"`

	LastUpdate time.Time `gorm:"autoUpdateTime" json:"last_update"`
	Error      string    `gorm:"type:text" json:"error"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "task"
}
