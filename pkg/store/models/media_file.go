package models

import "time"

// FileStatus is the per-file lifecycle state (spec §3/§4.8).
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusError      FileStatus = "error"
	FileStatusCancelling FileStatus = "cancelling"
	FileStatusCancelled  FileStatus = "cancelled"
	FileStatusOrphaned   FileStatus = "orphaned"
)

// IsActive reports whether a task may legally own the file in this status.
func (s FileStatus) IsActive() bool {
	return s == FileStatusProcessing || s == FileStatusCancelling
}

// MediaFile is a user-owned media object with a content hash and a lifecycle.
//
// active_task_id is non-null if and only if status is Processing or
// Cancelling; this invariant is enforced by the transition helpers in
// pkg/store, never by callers setting fields directly.
type MediaFile struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	Owner       string `gorm:"not null;size:255;index:idx_media_file_owner_hash,unique;index:idx_media_file_owner_upload" json:"owner"`
	DisplayName string `gorm:"not null;size:512" json:"display_name"`
	ContentHash string `gorm:"not null;size:32;index:idx_media_file_owner_hash,unique;index:idx_media_file_content_hash" json:"content_hash"`
	ByteLength  int64  `gorm:"not null" json:"byte_length"`
	MimeClass   string `gorm:"size:128" json:"mime_class"`
	DurationSec float64 `gorm:"default:0" json:"duration_sec"`

	Status FileStatus `gorm:"not null;size:32;index:idx_media_file_status" json:"status"`

	RetryCount int `gorm:"default:0" json:"retry_count"`
	MaxRetries int `gorm:"default:3" json:"max_retries"`

	ActiveTaskID   *string    `gorm:"size:64;index:idx_media_file_active_task" json:"active_task_id"`
	TaskStartedAt  *time.Time `json:"task_started_at"`
	TaskLastUpdate *time.Time `gorm:"index:idx_media_file_task_last_update" json:"task_last_update"`
	CompletedAt    *time.Time `json:"completed_at"`

	LastError string `gorm:"type:text" json:"last_error"`

	CancellationRequested bool `gorm:"default:false" json:"cancellation_requested"`
	ForceDeleteEligible   bool `gorm:"default:false" json:"force_delete_eligible"`
	RecoveryAttempts      int  `gorm:"default:0" json:"recovery_attempts"`

	StoragePath string `gorm:"size:512" json:"storage_path"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for MediaFile.
func (MediaFile) TableName() string {
	return "media_file"
}

// DeletableNow reports whether the file may be removed without force, per
// the safe-delete rule in spec §4.10: processing/cancelling files refuse
// deletion unless already marked force-delete-eligible.
func (f *MediaFile) DeletableNow() bool {
	if f.Status == FileStatusProcessing || f.Status == FileStatusCancelling {
		return f.ForceDeleteEligible
	}
	return true
}
