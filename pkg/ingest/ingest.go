// Package ingest implements the Ingestion Coordinator (spec §4.5 C5): the
// two-phase prepare/upload handshake for local file uploads, content-hash
// deduplication, and the URL ingest entry path.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opentranscribe/mpo/internal/logger"
	"github.com/opentranscribe/mpo/pkg/artifact"
	"github.com/opentranscribe/mpo/pkg/broker"
	"github.com/opentranscribe/mpo/pkg/contenthash"
	"github.com/opentranscribe/mpo/pkg/dispatch"
	"github.com/opentranscribe/mpo/pkg/store/models"
	"github.com/opentranscribe/mpo/pkg/taskerr"
)

// ErrHashMismatch is returned by Upload when the observed content hash
// does not equal the claimed hash from Prepare (spec §4.5 step 2).
var ErrHashMismatch = errors.New("ingest: observed content hash does not match claimed hash")

// MediaFileStore is the narrow slice of store.MediaFileStore the
// coordinator needs, accepted explicitly for testability.
type MediaFileStore interface {
	GetFile(ctx context.Context, id string) (*models.MediaFile, error)
	GetFileByHash(ctx context.Context, owner, contentHash string) (*models.MediaFile, error)
	CreateFile(ctx context.Context, file *models.MediaFile) (string, error)
	UpdateFileAttributes(ctx context.Context, file *models.MediaFile) error
	DeleteFile(ctx context.Context, fileID string) error
}

// TaskStore is the narrow slice of store.TaskStore the coordinator needs.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
}

// Lifecycle is the subset of *lifecycle.Manager the coordinator needs to
// best-effort signal an in-flight worker before a delete (spec §4.10).
type Lifecycle interface {
	RequestCancellation(ctx context.Context, fileID, taskID string) error
}

// IndexGateway is the subset of *index.Gateway the coordinator needs to
// drop a file's indexed transcript as part of delete.
type IndexGateway interface {
	DeleteDocument(ctx context.Context, fileID string) error
}

// PrepareRequest is the client's announcement of an incoming upload.
type PrepareRequest struct {
	Owner       string
	Filename    string
	Size        int64
	Mime        string
	ContentHash string
}

// PrepareResult tells the client whether to proceed with the upload.
type PrepareResult struct {
	FileID      string
	IsDuplicate bool
}

// Coordinator wires the metadata store, artifact gateway and dispatcher
// together for ingestion.
type Coordinator struct {
	store      MediaFileStore
	tasks      TaskStore
	gateway    artifact.Gateway
	dispatcher *dispatch.Dispatcher

	lifecycle Lifecycle
	index     IndexGateway
}

// New builds a Coordinator.
func New(mediaStore MediaFileStore, taskStore TaskStore, gateway artifact.Gateway, dispatcher *dispatch.Dispatcher) *Coordinator {
	return &Coordinator{store: mediaStore, tasks: taskStore, gateway: gateway, dispatcher: dispatcher}
}

// SetLifecycle attaches the Task Lifecycle Manager so DeleteFile can
// best-effort request cancellation of an in-flight task before removing the
// file. Passing nil (the default) skips that step.
func (c *Coordinator) SetLifecycle(lc Lifecycle) {
	c.lifecycle = lc
}

// SetIndex attaches the Index Gateway so DeleteFile also drops the file's
// indexed transcript. Passing nil (the default) skips that step.
func (c *Coordinator) SetIndex(idx IndexGateway) {
	c.index = idx
}

// Prepare implements the dedup lookup described in spec §4.5 step 1. A
// concurrent identical prepare racing this one is resolved by the unique
// constraint on (owner, content_hash): the loser's CreateFile returns
// models.ErrDuplicateFile and Prepare recovers by re-reading the winner's row.
func (c *Coordinator) Prepare(ctx context.Context, req PrepareRequest) (*PrepareResult, error) {
	existing, err := c.store.GetFileByHash(ctx, req.Owner, req.ContentHash)
	if err != nil && !errors.Is(err, models.ErrFileNotFound) {
		return nil, fmt.Errorf("ingest: prepare lookup: %w", err)
	}
	if existing != nil {
		return &PrepareResult{FileID: existing.ID, IsDuplicate: true}, nil
	}

	fileID := uuid.New().String()
	file := &models.MediaFile{
		ID:          fileID,
		Owner:       req.Owner,
		DisplayName: req.Filename,
		ContentHash: req.ContentHash,
		ByteLength:  req.Size,
		MimeClass:   req.Mime,
		Status:      models.FileStatusPending,
		MaxRetries:  3,
		StoragePath: artifact.Key(req.Owner, fileID, artifact.RoleOriginal),
	}

	id, err := c.store.CreateFile(ctx, file)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateFile) {
			winner, getErr := c.store.GetFileByHash(ctx, req.Owner, req.ContentHash)
			if getErr != nil {
				return nil, fmt.Errorf("ingest: recover race loser: %w", getErr)
			}
			return &PrepareResult{FileID: winner.ID, IsDuplicate: true}, nil
		}
		return nil, fmt.Errorf("ingest: create file: %w", err)
	}

	return &PrepareResult{FileID: id, IsDuplicate: false}, nil
}

// Upload streams bytes for a previously-prepared file, verifies the
// observed hash, and enqueues the transcription job on success (spec §4.5
// step 2). On hash mismatch the row is deleted and ErrHashMismatch returned.
func (c *Coordinator) Upload(ctx context.Context, fileID, claimedHash string, r io.Reader) error {
	file, err := c.store.GetFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("ingest: upload lookup: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("ingest: read upload body: %w", err)
	}

	observed, err := contenthash.Hash(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("ingest: hash upload body: %w", err)
	}
	if observed != claimedHash {
		_ = c.store.DeleteFile(ctx, fileID)
		return ErrHashMismatch
	}

	if _, err := c.gateway.Put(ctx, file.StoragePath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("ingest: store artifact: %w", err)
	}

	file.ByteLength = int64(len(data))
	if err := c.store.UpdateFileAttributes(ctx, file); err != nil {
		return fmt.Errorf("ingest: update attributes: %w", err)
	}

	return c.enqueueTask(ctx, file.Owner, file.ID, models.TaskKindTranscription, broker.QueueGPU)
}

// IngestURL implements the URL ingest entry path (spec §4.5): creates a
// Pending row and enqueues a download task. The download stage is
// responsible for fetching, hashing, storing, and transitioning the row
// identically to a local upload.
func (c *Coordinator) IngestURL(ctx context.Context, owner, url string) (string, error) {
	fileID := uuid.New().String()
	file := &models.MediaFile{
		ID:          fileID,
		Owner:       owner,
		DisplayName: url,
		// ContentHash is unknown until the download stage fetches the body;
		// a placeholder derived from fileID keeps the (owner, content_hash)
		// unique index satisfied for any number of concurrent URL ingests
		// before the real hash overwrites it.
		ContentHash: pendingContentHash(fileID),
		Status:      models.FileStatusPending,
		MaxRetries:  3,
		StoragePath: artifact.Key(owner, fileID, artifact.RoleOriginal),
	}
	id, err := c.store.CreateFile(ctx, file)
	if err != nil {
		return "", fmt.Errorf("ingest: create url ingest file: %w", err)
	}

	if err := c.enqueueTask(ctx, owner, id, models.TaskKindURLIngest, broker.QueueDownload); err != nil {
		return "", err
	}
	return id, nil
}

// DeleteFile implements the safe-delete path (spec §4.10): refuse with
// FileNotSafeToDelete unless the file is terminal or already marked
// force-delete-eligible, otherwise best-effort broker-cancel, index-doc-
// delete, and blob-delete, followed by the row delete itself. The broker
// and index steps are best-effort and only logged on failure: leaving a
// stale index row or an orphaned blob behind is preferable to blocking a
// user-requested delete on an infrastructure hiccup, and the Recovery
// Reaper never resurrects a row removed through this path.
func (c *Coordinator) DeleteFile(ctx context.Context, fileID string) error {
	file, err := c.store.GetFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("ingest: delete lookup: %w", err)
	}

	if !file.DeletableNow() {
		return taskerr.New("ingest.DeleteFile", taskerr.KindFileNotSafeToDelete, fileID, "", taskerr.ErrFileNotSafeToDelete)
	}

	if c.lifecycle != nil && file.ActiveTaskID != nil {
		if err := c.lifecycle.RequestCancellation(ctx, fileID, *file.ActiveTaskID); err != nil {
			logger.Warn("ingest: best-effort cancel before delete failed", "file_id", fileID, "task_id", *file.ActiveTaskID, "error", err)
		}
	}

	if c.index != nil {
		if err := c.index.DeleteDocument(ctx, fileID); err != nil {
			logger.Warn("ingest: delete indexed transcript failed", "file_id", fileID, "error", err)
		}
	}

	for _, role := range []artifact.Role{artifact.RoleOriginal, artifact.RoleWaveform, artifact.RoleThumbnail} {
		key := artifact.Key(file.Owner, file.ID, role)
		if err := c.gateway.Delete(ctx, key); err != nil {
			logger.Warn("ingest: delete artifact blob failed", "file_id", fileID, "key", key, "error", err)
		}
	}

	return c.store.DeleteFile(ctx, fileID)
}

// pendingContentHash derives a 32-character placeholder from a file UUID
// (its 36 characters minus 4 dashes), matching content_hash's column width
// and guaranteeing uniqueness per file until the real hash is known.
func pendingContentHash(fileID string) string {
	return strings.ReplaceAll(fileID, "-", "")
}

func (c *Coordinator) enqueueTask(ctx context.Context, owner, fileID string, kind models.TaskKind, queue string) error {
	taskID := uuid.New().String()
	task := &models.Task{
		ID:         taskID,
		Owner:      owner,
		FileID:     &fileID,
		Kind:       kind,
		Status:     models.TaskStatusQueued,
		LastUpdate: time.Now(),
		CreatedAt:  time.Now(),
	}
	if err := c.tasks.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("ingest: create task: %w", err)
	}

	if _, err := c.dispatcher.Enqueue(ctx, queue, dispatch.Job{
		ID:     uuid.New().String(),
		TaskID: taskID,
		FileID: fileID,
		Kind:   string(kind),
	}); err != nil {
		return fmt.Errorf("ingest: enqueue job: %w", err)
	}
	return nil
}
