// Package store provides the metadata store persistence layer (spec
// component C2).
//
// It implements a transactional store exposing typed repositories for
// MediaFile, Task, TranscriptSegment, Speaker, SpeakerProfile, Collection,
// Tag, Comment, Summary and Analytics.
//
// The Store interface is composed of focused sub-interfaces, each grouping
// related operations by entity. Consumers should accept the narrowest
// sub-interface they need for improved testability and explicit dependencies.
//
// Two backends are supported:
//   - SQLite (single-node, default)
//   - PostgreSQL (HA-capable)
package store

import (
	"context"
	"time"

	"github.com/opentranscribe/mpo/pkg/store/models"
)

// FileFilter narrows ListFiles queries by owner-facing predicates.
type FileFilter struct {
	Status   *models.FileStatus
	TagNames []string
	FileType string
	Since    *time.Time
	Until    *time.Time
	Text     string
}

// MediaFileStore provides MediaFile CRUD and the atomic state-machine
// transitions described in spec §4.2 and §4.8.
//
// All status transitions are compare-and-swap on (file_id, status,
// active_task_id): callers never write status/active_task_id with a plain
// Update — they call one of the Transition* methods, which fail with
// models.ErrFileConflict if the row has moved since it was last read.
type MediaFileStore interface {
	// GetFile returns a file by id.
	GetFile(ctx context.Context, id string) (*models.MediaFile, error)

	// GetFileByHash returns the file uniquely identified by (owner,
	// content_hash), implementing the dedup lookup in spec §4.5.
	GetFileByHash(ctx context.Context, owner, contentHash string) (*models.MediaFile, error)

	// ListFiles returns files owned by owner matching filter, newest upload first.
	ListFiles(ctx context.Context, owner string, filter FileFilter) ([]*models.MediaFile, error)

	// CreateFile inserts a new Pending file row. Returns models.ErrDuplicateFile
	// if (owner, content_hash) already exists.
	CreateFile(ctx context.Context, file *models.MediaFile) (string, error)

	// UpdateFileAttributes updates descriptive fields (display name, duration,
	// mime class, byte length) without touching status or active_task_id.
	UpdateFileAttributes(ctx context.Context, file *models.MediaFile) error

	// TransitionToProcessing performs Pending→Processing or Error→Processing
	// (retry): sets active_task_id, task_started_at, clears last_error. Fails
	// with models.ErrFileConflict if the file is not in a state that permits
	// dispatch or is already owned by another task.
	TransitionToProcessing(ctx context.Context, fileID, taskID string) error

	// TransitionToCompleted performs Processing→Completed: clears
	// active_task_id, sets completed_at and duration, and persists segments
	// and speakers within the same transaction. Fails with
	// models.ErrFileConflict if active_task_id does not match taskID.
	TransitionToCompleted(ctx context.Context, fileID, taskID string, duration float64, segments []*models.TranscriptSegment, speakers []*models.Speaker) error

	// TransitionToError records a terminal or retryable failure. If
	// retryable is true and the file's retry_count remains below
	// max_retries, the file is moved back to Pending for re-enqueue;
	// otherwise it is left in Error.
	TransitionToError(ctx context.Context, fileID, taskID, message string, retryable bool) error

	// RequestCancellation sets cancellation_requested and moves
	// Processing→Cancelling. It is a no-op if the file is not Processing.
	RequestCancellation(ctx context.Context, fileID string) error

	// TransitionToCancelled performs Processing/Cancelling→Cancelled,
	// clearing active_task_id. If forceDeleteEligible is true the file
	// becomes deletable regardless of status (spec §4.8 Cancelling timeout).
	TransitionToCancelled(ctx context.Context, fileID string, forceDeleteEligible bool) error

	// TransitionToOrphaned performs Processing→Orphaned: clears
	// active_task_id and increments recovery_attempts. Used by the Recovery
	// Reaper when task_last_update is stale beyond the stuck window.
	TransitionToOrphaned(ctx context.Context, fileID string) error

	// RecoverOrphaned performs Orphaned→Pending, the operator-triggered
	// recovery path.
	RecoverOrphaned(ctx context.Context, fileID string) error

	// UpdateProgress writes task_last_update for the file's active task, used
	// by the TLM progress sink. It is a fire-and-forget best-effort write;
	// failures must not fail the calling stage.
	UpdateProgress(ctx context.Context, fileID, taskID string) error

	// DeleteFile removes the file row; callers must have already checked
	// DeletableNow() or be performing a force delete. Cascades to segments,
	// speakers, tags, comments and collection memberships scoped to the file.
	DeleteFile(ctx context.Context, fileID string) error

	// ListStaleProcessing returns Processing files whose task_last_update is
	// older than olderThan, for the Recovery Reaper's stuck scan.
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*models.MediaFile, error)

	// ListStalePending returns Pending files with no stored blob (storage_path
	// set but never completed an upload) older than olderThan.
	ListStalePending(ctx context.Context, olderThan time.Time) ([]*models.MediaFile, error)

	// ListOverdueCancelling returns Cancelling files past their cancel
	// deadline.
	ListOverdueCancelling(ctx context.Context, deadline time.Time) ([]*models.MediaFile, error)
}

// TaskStore provides Task audit-trail CRUD.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, progress float64, errMsg string) error
	ListTasksForFile(ctx context.Context, fileID string) ([]*models.Task, error)
}

// SegmentStore provides bulk segment operations.
type SegmentStore interface {
	// BulkInsertSegments inserts all segments for a file within a single
	// transaction.
	BulkInsertSegments(ctx context.Context, segments []*models.TranscriptSegment) error

	// ListSegments returns all segments for a file ordered by start_time.
	ListSegments(ctx context.Context, fileID string) ([]*models.TranscriptSegment, error)
}

// SpeakerStore provides Speaker/SpeakerProfile operations, including the
// atomic merge described in spec §4.8.
type SpeakerStore interface {
	ListSpeakersForFile(ctx context.Context, fileID string) ([]*models.Speaker, error)
	CreateSpeaker(ctx context.Context, speaker *models.Speaker) (string, error)

	// MergeSpeakers moves all segments from source to target and deletes
	// source, atomically, within one transaction. source and target must
	// belong to the same owner and the same file, or
	// models.ErrSpeakerMismatch is returned. The pair is normalized so the
	// operation's outcome does not depend on argument order beyond which
	// speaker id survives.
	MergeSpeakers(ctx context.Context, sourceID, targetID string) error

	CreateSpeakerProfile(ctx context.Context, profile *models.SpeakerProfile) (string, error)
	LinkSpeakerToProfile(ctx context.Context, speakerID, profileID string) error

	// DeleteSpeakerProfile removes the profile and clears ProfileID on any
	// linked speakers (weak back-reference, spec §3 "Ownership").
	DeleteSpeakerProfile(ctx context.Context, profileID string) error

	UpsertSpeakerMatch(ctx context.Context, match models.SpeakerMatch) error
}

// CollectionStore provides Collection/Tag/Comment CRUD.
type CollectionStore interface {
	CreateCollection(ctx context.Context, collection *models.Collection) (string, error)
	ListCollections(ctx context.Context, owner string) ([]*models.Collection, error)
	AddFileToCollection(ctx context.Context, collectionID, fileID string) error
	RemoveFileFromCollection(ctx context.Context, collectionID, fileID string) error

	GetOrCreateTag(ctx context.Context, name string) (*models.Tag, error)
	TagFile(ctx context.Context, fileID, tagName string) error
	UntagFile(ctx context.Context, fileID, tagName string) error
	ListTagsForFile(ctx context.Context, fileID string) ([]*models.Tag, error)

	AddComment(ctx context.Context, comment *models.Comment) (string, error)
	ListComments(ctx context.Context, fileID string) ([]*models.Comment, error)
}

// AnalyticsStore provides Summary/Analytics upserts (overwrite-on-rerun).
type AnalyticsStore interface {
	UpsertSummary(ctx context.Context, summary *models.Summary) error
	GetSummary(ctx context.Context, fileID string) (*models.Summary, error)

	UpsertAnalytics(ctx context.Context, analytics *models.Analytics) error
	GetAnalytics(ctx context.Context, fileID string) (*models.Analytics, error)
}

// DerivedArtifactStore provides waveform/thumbnail status-sidecar upserts
// (spec §6 "Persisted layout" thumbnail/waveform roles). The artifact bytes
// themselves live in the Artifact Store Gateway; this tracks whether a
// by-product exists and what the utility job that produced it found.
type DerivedArtifactStore interface {
	UpsertDerivedArtifact(ctx context.Context, artifact *models.DerivedArtifact) error
	GetDerivedArtifact(ctx context.Context, fileID string, role models.DerivedArtifactRole) (*models.DerivedArtifact, error)
}

// SettingsStore provides process-wide, reloadable key-value settings
// (spec §6 "reloadable on demand").
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
	ListSettings(ctx context.Context) ([]*models.Setting, error)
}

// Store composes every sub-interface the orchestrator's components depend
// on, plus lifecycle operations.
type Store interface {
	MediaFileStore
	TaskStore
	SegmentStore
	SpeakerStore
	CollectionStore
	AnalyticsStore
	DerivedArtifactStore
	SettingsStore

	Healthcheck(ctx context.Context) error
	Close() error
}
