package models

import "time"

// SummaryStatus is the lifecycle of a file's summarization attempt.
type SummaryStatus string

const (
	SummaryStatusPending      SummaryStatus = "pending"
	SummaryStatusProcessing   SummaryStatus = "processing"
	SummaryStatusCompleted    SummaryStatus = "completed"
	SummaryStatusFailed       SummaryStatus = "failed"
	SummaryStatusNotConfigured SummaryStatus = "not_configured"
)

// Summary holds the result of the summarization pipeline for a file. One row
// per file, overwritten on re-run (spec §4.7: "not_configured" is tracked
// per-file, reflecting the last attempted summarization task).
type Summary struct {
	MediaFileID string        `gorm:"primaryKey;size:36" json:"media_file_id"`
	Status      SummaryStatus `gorm:"not null;size:32" json:"status"`
	Content     string        `gorm:"type:text" json:"content"`
	Error       string        `gorm:"type:text" json:"error"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Summary.
func (Summary) TableName() string {
	return "summary"
}

// Analytics holds speaker talk-time, turn-taking, interruption and question
// counts computed by the analytics pipeline. One row per file, overwritten
// on re-run.
type Analytics struct {
	MediaFileID string `gorm:"primaryKey;size:36" json:"media_file_id"`

	// TalkTimeJSON maps speaker label to seconds spoken, JSON-encoded.
	TalkTimeJSON string `gorm:"type:text" json:"-"`
	TurnCount    int    `gorm:"default:0" json:"turn_count"`
	Interruptions int   `gorm:"default:0" json:"interruptions"`
	Questions    int    `gorm:"default:0" json:"questions"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Analytics.
func (Analytics) TableName() string {
	return "analytics"
}
