package ingest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/opentranscribe/mpo/pkg/artifact/fsstore"
	"github.com/opentranscribe/mpo/pkg/broker/redisqueue"
	"github.com/opentranscribe/mpo/pkg/contenthash"
	"github.com/opentranscribe/mpo/pkg/dispatch"
	"github.com/opentranscribe/mpo/pkg/store/models"
	"github.com/opentranscribe/mpo/pkg/taskerr"
)

type fakeMediaStore struct {
	byHash map[string]*models.MediaFile
	byID   map[string]*models.MediaFile
}

func newFakeMediaStore() *fakeMediaStore {
	return &fakeMediaStore{byHash: map[string]*models.MediaFile{}, byID: map[string]*models.MediaFile{}}
}

func (f *fakeMediaStore) GetFile(ctx context.Context, id string) (*models.MediaFile, error) {
	file, ok := f.byID[id]
	if !ok {
		return nil, models.ErrFileNotFound
	}
	return file, nil
}
func (f *fakeMediaStore) GetFileByHash(ctx context.Context, owner, hash string) (*models.MediaFile, error) {
	file, ok := f.byHash[owner+"/"+hash]
	if !ok {
		return nil, models.ErrFileNotFound
	}
	return file, nil
}
func (f *fakeMediaStore) CreateFile(ctx context.Context, file *models.MediaFile) (string, error) {
	key := file.Owner + "/" + file.ContentHash
	if _, exists := f.byHash[key]; exists {
		return "", models.ErrDuplicateFile
	}
	f.byHash[key] = file
	f.byID[file.ID] = file
	return file.ID, nil
}
func (f *fakeMediaStore) UpdateFileAttributes(ctx context.Context, file *models.MediaFile) error {
	f.byID[file.ID] = file
	return nil
}
func (f *fakeMediaStore) DeleteFile(ctx context.Context, fileID string) error {
	if file, ok := f.byID[fileID]; ok {
		delete(f.byHash, file.Owner+"/"+file.ContentHash)
		delete(f.byID, fileID)
	}
	return nil
}

type fakeTaskStore struct{ created []*models.Task }

func (f *fakeTaskStore) GetTask(ctx context.Context, id string) (*models.Task, error) { return nil, nil }
func (f *fakeTaskStore) CreateTask(ctx context.Context, task *models.Task) error {
	f.created = append(f.created, task)
	return nil
}
func (f *fakeTaskStore) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, progress float64, errMsg string) error {
	return nil
}
func (f *fakeTaskStore) ListTasksForFile(ctx context.Context, fileID string) ([]*models.Task, error) {
	return nil, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeMediaStore, *fakeTaskStore) {
	t.Helper()
	dir := t.TempDir()
	gateway, err := fsstore.New(dir)
	if err != nil {
		t.Fatalf("fsstore: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	b := redisqueue.New(rdb, "ingest-test")

	mediaStore := newFakeMediaStore()
	taskStore := &fakeTaskStore{}
	d := dispatch.New(b, nil, nil)

	return New(mediaStore, taskStore, gateway, d), mediaStore, taskStore
}

func TestPrepareThenUploadHappyPath(t *testing.T) {
	ctx := context.Background()
	c, _, tasks := newTestCoordinator(t)

	content := []byte("hello world audio bytes")
	hash, err := contenthash.Hash(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	prep, err := c.Prepare(ctx, PrepareRequest{Owner: "alice", Filename: "call.mp3", Size: int64(len(content)), ContentHash: hash})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if prep.IsDuplicate {
		t.Fatal("expected first prepare to not be a duplicate")
	}

	if err := c.Upload(ctx, prep.FileID, hash, bytes.NewReader(content)); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if len(tasks.created) != 1 || tasks.created[0].Kind != models.TaskKindTranscription {
		t.Fatalf("expected one transcription task, got %+v", tasks.created)
	}
}

func TestPrepareDetectsDuplicateByHash(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)

	first, err := c.Prepare(ctx, PrepareRequest{Owner: "bob", Filename: "a.mp3", ContentHash: "samehash"})
	if err != nil {
		t.Fatalf("prepare 1: %v", err)
	}

	second, err := c.Prepare(ctx, PrepareRequest{Owner: "bob", Filename: "b.mp3", ContentHash: "samehash"})
	if err != nil {
		t.Fatalf("prepare 2: %v", err)
	}
	if !second.IsDuplicate || second.FileID != first.FileID {
		t.Fatalf("expected second prepare to report duplicate of %s, got %+v", first.FileID, second)
	}
}

func TestUploadHashMismatchDeletesRow(t *testing.T) {
	ctx := context.Background()
	c, media, _ := newTestCoordinator(t)

	prep, err := c.Prepare(ctx, PrepareRequest{Owner: "carol", Filename: "x.mp3", ContentHash: "claimed-hash"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	err = c.Upload(ctx, prep.FileID, "claimed-hash", bytes.NewReader([]byte("different bytes entirely")))
	if err != ErrHashMismatch {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
	if _, ok := media.byID[prep.FileID]; ok {
		t.Fatal("expected row to be deleted after hash mismatch")
	}
}

type fakeLifecycle struct {
	calls []string
}

func (f *fakeLifecycle) RequestCancellation(ctx context.Context, fileID, taskID string) error {
	f.calls = append(f.calls, fileID+"/"+taskID)
	return nil
}

type fakeIndex struct {
	deleted []string
}

func (f *fakeIndex) DeleteDocument(ctx context.Context, fileID string) error {
	f.deleted = append(f.deleted, fileID)
	return nil
}

func TestDeleteFileRemovesTerminalFile(t *testing.T) {
	ctx := context.Background()
	c, media, _ := newTestCoordinator(t)
	idx := &fakeIndex{}
	c.SetIndex(idx)

	media.byID["f1"] = &models.MediaFile{ID: "f1", Owner: "alice", Status: models.FileStatusCompleted}

	if err := c.DeleteFile(ctx, "f1"); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if _, ok := media.byID["f1"]; ok {
		t.Fatal("expected row to be deleted")
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "f1" {
		t.Fatalf("expected indexed document deleted, got %v", idx.deleted)
	}
}

func TestDeleteFileRefusesActiveTaskWithoutForceEligible(t *testing.T) {
	ctx := context.Background()
	c, media, _ := newTestCoordinator(t)
	taskID := "t1"
	media.byID["f1"] = &models.MediaFile{ID: "f1", Owner: "alice", Status: models.FileStatusProcessing, ActiveTaskID: &taskID}

	err := c.DeleteFile(ctx, "f1")
	if !errors.Is(err, taskerr.ErrFileNotSafeToDelete) {
		t.Fatalf("expected ErrFileNotSafeToDelete, got %v", err)
	}
	if _, ok := media.byID["f1"]; !ok {
		t.Fatal("expected row to survive a refused delete")
	}
}

func TestDeleteFileForceEligibleCancelsInFlightTask(t *testing.T) {
	ctx := context.Background()
	c, media, _ := newTestCoordinator(t)
	lc := &fakeLifecycle{}
	c.SetLifecycle(lc)

	taskID := "t1"
	media.byID["f1"] = &models.MediaFile{
		ID: "f1", Owner: "alice", Status: models.FileStatusProcessing,
		ActiveTaskID: &taskID, ForceDeleteEligible: true,
	}

	if err := c.DeleteFile(ctx, "f1"); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if len(lc.calls) != 1 || lc.calls[0] != "f1/t1" {
		t.Fatalf("expected best-effort cancel for f1/t1, got %v", lc.calls)
	}
	if _, ok := media.byID["f1"]; ok {
		t.Fatal("expected row to be deleted")
	}
}

func TestIngestURLEnqueuesDownloadTask(t *testing.T) {
	ctx := context.Background()
	c, _, tasks := newTestCoordinator(t)

	fileID, err := c.IngestURL(ctx, "dave", "https://example.com/audio.mp3")
	if err != nil {
		t.Fatalf("ingest url: %v", err)
	}
	if fileID == "" {
		t.Fatal("expected non-empty file id")
	}
	if len(tasks.created) != 1 || tasks.created[0].Kind != models.TaskKindURLIngest {
		t.Fatalf("expected one url_ingest task, got %+v", tasks.created)
	}
}
