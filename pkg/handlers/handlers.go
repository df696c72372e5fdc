// Package handlers adapts the three stage pipelines (pkg/pipeline/...) into
// dispatch.Handler functions: decoding a Job, fetching the inputs its kind
// needs from the store and artifact gateway, running the pipeline, and
// persisting the result through the Task Lifecycle Manager's kind-specific
// Complete* call.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opentranscribe/mpo/internal/logger"
	"github.com/opentranscribe/mpo/pkg/artifact"
	"github.com/opentranscribe/mpo/pkg/broker"
	"github.com/opentranscribe/mpo/pkg/contenthash"
	"github.com/opentranscribe/mpo/pkg/dispatch"
	"github.com/opentranscribe/mpo/pkg/index"
	"github.com/opentranscribe/mpo/pkg/lifecycle"
	"github.com/opentranscribe/mpo/pkg/lifecycle/checkpoint"
	"github.com/opentranscribe/mpo/pkg/llm"
	"github.com/opentranscribe/mpo/pkg/pipeline"
	"github.com/opentranscribe/mpo/pkg/pipeline/analytics"
	"github.com/opentranscribe/mpo/pkg/pipeline/download"
	"github.com/opentranscribe/mpo/pkg/pipeline/summarization"
	"github.com/opentranscribe/mpo/pkg/pipeline/thumbnail"
	"github.com/opentranscribe/mpo/pkg/pipeline/transcription"
	"github.com/opentranscribe/mpo/pkg/pipeline/waveform"
	"github.com/opentranscribe/mpo/pkg/settings"
	"github.com/opentranscribe/mpo/pkg/store"
	"github.com/opentranscribe/mpo/pkg/store/models"
)

// Deps are the components every handler needs. Engine and LLM may be nil:
// a nil Engine fails any transcription job with FailureModelAuth, and a nil
// LLM is handled by summarization.Pipeline itself, which treats a nil
// provider as "not configured". The analytics pipeline uses no LLM.
type Deps struct {
	Store     store.Store
	Artifacts artifact.Gateway
	Lifecycle *lifecycle.Manager
	Engine    transcription.Engine
	LLM       llm.Provider

	// Index is optional: a nil Index simply skips the post-transcription
	// search-index write (spec §4.3's Index Gateway is an enrichment over
	// the persisted transcript, not a dependency the transcription result
	// itself needs).
	Index *index.Gateway

	// Checkpoints is optional: a nil value disables dedup and every job
	// runs unconditionally, same as before this cache existed.
	Checkpoints *checkpoint.Store

	// TranscriptionCleanup is the fallback used when Settings is nil or has
	// no override recorded; with Settings attached it's overridden on every
	// dispatch by the live Snapshot instead.
	TranscriptionCleanup transcription.CleanupConfig

	// Settings is optional: a nil value means every dispatch always uses
	// TranscriptionCleanup as given at startup, same as before this cache
	// existed.
	Settings *settings.Cache

	// WaveformConfig controls the downsampling rate for TaskKindWaveform
	// jobs. A zero value uses waveform.DefaultConfig.
	WaveformConfig waveform.Config

	// Thumbnail is optional: a nil value uses thumbnail.Default(), which
	// always reports ErrNotConfigured and records a not_configured sidecar
	// row rather than failing the waveform job.
	Thumbnail thumbnail.Extractor

	// DownloadConfig controls the HTTP client used for TaskKindURLIngest
	// jobs. A zero value uses download.DefaultConfig.
	DownloadConfig download.Config

	// Dispatcher enqueues the transcription job a completed URL ingest
	// hands off to, mirroring ingest.Coordinator.Upload's own follow-on
	// enqueue for a local upload. Required for TaskKindURLIngest; every
	// other handler works without it.
	Dispatcher *dispatch.Dispatcher
}

// cleanupConfig resolves the CleanupConfig to run the transcription pipeline
// with, preferring the live settings Snapshot over the static fallback.
func (d Deps) cleanupConfig() transcription.CleanupConfig {
	if d.Settings == nil {
		return d.TranscriptionCleanup
	}
	snap := d.Settings.Snapshot()
	return transcription.CleanupConfig{
		Enabled:         snap.TranscriptionCleanupEnabled,
		MinTokenLength:  snap.TranscriptionCleanupMinTokenLength,
		ReplacementText: snap.TranscriptionCleanupReplacementText,
	}
}

// alreadyHandled reports whether job.ID was already run to completion by a
// prior delivery of the same broker message (e.g. the worker crashed after
// a Complete* call durably persisted but before the broker recorded the
// Ack). Skipping re-entry here avoids redoing expensive pipeline work —
// model inference above all — on a message the broker redelivers only
// because it never learned the first attempt finished.
func (d Deps) alreadyHandled(ctx context.Context, job dispatch.Job) bool {
	if d.Checkpoints == nil {
		return false
	}
	done, err := d.Checkpoints.IsDone(ctx, job.ID)
	if err != nil {
		logger.Warn("handlers: checkpoint lookup failed, proceeding", "job_id", job.ID, "error", err)
		return false
	}
	return done
}

func (d Deps) markHandled(ctx context.Context, job dispatch.Job) {
	if d.Checkpoints == nil {
		return
	}
	if err := d.Checkpoints.MarkDone(ctx, job.ID); err != nil {
		logger.Warn("handlers: checkpoint mark-done failed", "job_id", job.ID, "error", err)
	}
}

// RegisterAll binds every kind this package implements onto d.
func RegisterAll(d *dispatch.Dispatcher, deps Deps) {
	d.RegisterHandler(string(models.TaskKindTranscription), deps.handleTranscription)
	d.RegisterHandler(string(models.TaskKindSummarization), deps.handleSummarization)
	d.RegisterHandler(string(models.TaskKindAnalytics), deps.handleAnalytics)
	d.RegisterHandler(string(models.TaskKindWaveform), deps.handleWaveform)
	d.RegisterHandler(string(models.TaskKindURLIngest), deps.handleURLIngest)
}

// cancelChecker consults both cancellation signals spec §4.6 requires: the
// broker-side flag RequestCancel stamped onto the polled job (set
// immediately, visible to a worker already mid-run without a store round
// trip) and the DB-side flag a different process may have set after this
// job was dequeued.
func (d Deps) cancelChecker(job dispatch.Job) pipeline.CancelChecker {
	return func(ctx context.Context) (bool, error) {
		if job.CancelRequest {
			return true, nil
		}
		file, err := d.Store.GetFile(ctx, job.FileID)
		if err != nil {
			return false, err
		}
		return file.CancellationRequested, nil
	}
}

func sinkFor(report dispatch.ProgressFunc) pipeline.ProgressSink {
	if report == nil {
		return nil
	}
	return pipeline.ProgressSinkFunc(func(ctx context.Context, stage string, fraction float64, message string) error {
		return report(ctx, fraction)
	})
}

// handleTranscription fetches the original upload, runs it through the
// transcription pipeline, and persists segments/speakers/duration via
// Manager.CompleteTranscription (spec §4.7 step 5).
func (d Deps) handleTranscription(ctx context.Context, job dispatch.Job, report dispatch.ProgressFunc) error {
	if d.alreadyHandled(ctx, job) {
		return nil
	}
	if d.Engine == nil {
		return pipeline.NewError("transcription", pipeline.FailureModelAuth, errors.New("no transcription engine configured"))
	}

	file, err := d.Store.GetFile(ctx, job.FileID)
	if err != nil {
		return pipeline.NewError("transcription", pipeline.FailureTransientInfra, err)
	}

	audio, err := d.Artifacts.Get(ctx, artifact.Key(file.Owner, file.ID, artifact.RoleOriginal))
	if err != nil {
		return pipeline.NewError("transcription", pipeline.FailureTransientInfra, err)
	}
	defer audio.Close()

	p := transcription.New(d.Engine, d.cleanupConfig())
	result, err := p.Run(ctx, audio, sinkFor(report), d.cancelChecker(job))
	if err != nil {
		return err
	}

	segments := make([]*models.TranscriptSegment, 0, len(result.Segments))
	speakerIDs := make(map[string]string, len(result.Speakers))
	speakers := make([]*models.Speaker, 0, len(result.Speakers))
	for _, sp := range result.Speakers {
		id := uuid.New().String()
		speakerIDs[sp.Label] = id
		speakers = append(speakers, &models.Speaker{
			ID:          id,
			MediaFileID: job.FileID,
			Owner:       file.Owner,
			Label:       sp.Label,
			Embedding:   sp.Embedding,
		})
	}
	for _, seg := range result.Segments {
		var speakerID *string
		if id, ok := speakerIDs[seg.SpeakerLabel]; ok {
			speakerID = &id
		}
		segments = append(segments, &models.TranscriptSegment{
			ID:          uuid.New().String(),
			MediaFileID: job.FileID,
			SpeakerID:   speakerID,
			StartTime:   seg.StartTime,
			EndTime:     seg.EndTime,
			Text:        seg.Text,
		})
	}

	if err := d.Lifecycle.CompleteTranscription(ctx, job, result.DurationSec, segments, speakers); err != nil {
		return err
	}
	d.markHandled(ctx, job)

	d.indexTranscript(ctx, file, segments, speakers)

	if err := d.enqueueFollowOn(ctx, file.Owner, file.ID, models.TaskKindWaveform, broker.QueueUtility); err != nil {
		logger.Warn("handlers: waveform enqueue failed", "file_id", file.ID, "error", err)
	}
	return nil
}

// indexTranscript writes the just-completed transcript into the Index
// Gateway's search tables. It is best-effort: the transcript is already
// durably persisted by CompleteTranscription, so a search-index write
// failure here is logged, not returned, rather than failing a task whose
// actual work already succeeded.
func (d Deps) indexTranscript(ctx context.Context, file *models.MediaFile, segments []*models.TranscriptSegment, speakers []*models.Speaker) {
	if d.Index == nil {
		return
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	labels := make([]string, len(speakers))
	for i, sp := range speakers {
		labels[i] = sp.Label
	}

	var tagNames []string
	if tags, err := d.Store.ListTagsForFile(ctx, file.ID); err == nil {
		for _, tag := range tags {
			tagNames = append(tagNames, tag.Name)
		}
	}

	doc := index.Document{
		FileID:   file.ID,
		Owner:    file.Owner,
		Title:    file.DisplayName,
		Text:     strings.Join(texts, "\n"),
		Speakers: labels,
		Tags:     tagNames,
	}
	if err := d.Index.IndexTranscript(ctx, doc); err != nil {
		logger.Warn("handlers: index transcript failed", "file_id", file.ID, "error", err)
	}
}

// handleSummarization loads the file's persisted transcript, runs it
// through the summarization pipeline, and upserts the result regardless of
// outcome (spec §4.7: "not_configured" and "failed" are both recorded
// status values, not just "completed").
func (d Deps) handleSummarization(ctx context.Context, job dispatch.Job, report dispatch.ProgressFunc) error {
	if d.alreadyHandled(ctx, job) {
		return nil
	}
	segments, err := d.loadTranscript(ctx, job.FileID)
	if err != nil {
		return pipeline.NewError("summarization", pipeline.FailureTransientInfra, err)
	}

	summarySegments := make([]summarization.TranscriptSegment, len(segments))
	for i, s := range segments {
		summarySegments[i] = summarization.TranscriptSegment{SpeakerLabel: s.SpeakerLabel, Text: s.Text}
	}

	p := summarization.New(d.LLM)
	summary, status, runErr := p.Run(ctx, summarySegments, sinkFor(report))

	row := &models.Summary{MediaFileID: job.FileID, Status: status}
	if runErr != nil {
		row.Error = runErr.Error()
	}
	if summary != nil {
		content, marshalErr := summary.Marshal()
		if marshalErr != nil {
			return pipeline.NewError("summarization", pipeline.FailureUnknown, marshalErr)
		}
		row.Content = content
	}

	if completeErr := d.Lifecycle.CompleteSummarization(ctx, job, row); completeErr != nil {
		return completeErr
	}
	d.markHandled(ctx, job)

	if errors.Is(runErr, llm.ErrNotConfigured) {
		return nil
	}
	return runErr
}

// handleAnalytics loads the file's persisted transcript, computes
// talk-time/turn/interruption/question metrics, and upserts the result.
func (d Deps) handleAnalytics(ctx context.Context, job dispatch.Job, report dispatch.ProgressFunc) error {
	if d.alreadyHandled(ctx, job) {
		return nil
	}
	segments, err := d.loadTranscript(ctx, job.FileID)
	if err != nil {
		return pipeline.NewError("analytics", pipeline.FailureTransientInfra, err)
	}

	analyticsSegments := make([]analytics.Segment, len(segments))
	for i, s := range segments {
		analyticsSegments[i] = analytics.Segment{
			SpeakerLabel: s.SpeakerLabel,
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			Text:         s.Text,
		}
	}

	p := analytics.New()
	result, err := p.Run(ctx, analyticsSegments, sinkFor(report))
	if err != nil {
		return err
	}

	talkTimeJSON, err := result.TalkTimeJSON()
	if err != nil {
		return pipeline.NewError("analytics", pipeline.FailureUnknown, err)
	}

	row := &models.Analytics{
		MediaFileID:   job.FileID,
		TalkTimeJSON:  talkTimeJSON,
		TurnCount:     result.TurnCount,
		Interruptions: result.Interruptions,
		Questions:     result.Questions,
	}
	if err := d.Lifecycle.CompleteAnalytics(ctx, job, row); err != nil {
		return err
	}
	d.markHandled(ctx, job)
	return nil
}

// handleWaveform produces the waveform and (best-effort) thumbnail derived
// artifacts for a file's original upload (spec §6 "Persisted layout").
// A thumbnail extractor that isn't configured doesn't fail the job: only
// the waveform half is required to succeed.
func (d Deps) handleWaveform(ctx context.Context, job dispatch.Job, report dispatch.ProgressFunc) error {
	if d.alreadyHandled(ctx, job) {
		return nil
	}

	file, err := d.Store.GetFile(ctx, job.FileID)
	if err != nil {
		return pipeline.NewError("waveform", pipeline.FailureTransientInfra, err)
	}

	if err := d.generateWaveform(ctx, job, file, sinkFor(report)); err != nil {
		return err
	}
	d.generateThumbnail(ctx, job, file)

	d.markHandled(ctx, job)
	return nil
}

func (d Deps) generateWaveform(ctx context.Context, job dispatch.Job, file *models.MediaFile, sink pipeline.ProgressSink) error {
	audio, err := d.Artifacts.Get(ctx, artifact.Key(file.Owner, file.ID, artifact.RoleOriginal))
	if err != nil {
		return pipeline.NewError("waveform", pipeline.FailureTransientInfra, err)
	}
	defer audio.Close()

	p := waveform.New(d.WaveformConfig)
	env, err := p.Run(ctx, audio, sink, d.cancelChecker(job))
	if err != nil {
		return err
	}

	payload, err := env.Marshal()
	if err != nil {
		return pipeline.NewError("waveform", pipeline.FailureUnknown, err)
	}

	key := artifact.Key(file.Owner, file.ID, artifact.RoleWaveform)
	if _, err := d.Artifacts.Put(ctx, key, bytes.NewReader(payload)); err != nil {
		return pipeline.NewError("waveform", pipeline.FailureTransientInfra, err)
	}

	row := &models.DerivedArtifact{
		MediaFileID: file.ID,
		Role:        models.DerivedArtifactRoleWaveform,
		Status:      models.DerivedArtifactStatusCompleted,
		Metadata:    fmt.Sprintf(`{"bucket_count":%d,"samples_per_bucket":%d}`, len(env.Buckets), env.SamplesPerBucket),
	}
	return d.Lifecycle.CompleteDerivedArtifact(ctx, job, row)
}

// generateThumbnail is best-effort: a missing Extractor, a decode failure,
// or an upload failure all record a sidecar row rather than propagating an
// error back to handleWaveform, since the waveform half of the job has
// already succeeded by the time this runs.
func (d Deps) generateThumbnail(ctx context.Context, job dispatch.Job, file *models.MediaFile) {
	extractor := d.Thumbnail
	if extractor == nil {
		extractor = thumbnail.Default()
	}

	original, err := d.Artifacts.Get(ctx, artifact.Key(file.Owner, file.ID, artifact.RoleOriginal))
	if err != nil {
		logger.Warn("handlers: thumbnail source fetch failed", "file_id", file.ID, "error", err)
		return
	}
	defer original.Close()

	image, extractErr := extractor.Extract(ctx, original)
	row := &models.DerivedArtifact{MediaFileID: file.ID, Role: models.DerivedArtifactRoleThumbnail}
	switch {
	case errors.Is(extractErr, thumbnail.ErrNotConfigured):
		row.Status = models.DerivedArtifactStatusNotConfigured
	case extractErr != nil:
		row.Status = models.DerivedArtifactStatusFailed
		row.Error = extractErr.Error()
	default:
		key := artifact.Key(file.Owner, file.ID, artifact.RoleThumbnail)
		if _, putErr := d.Artifacts.Put(ctx, key, bytes.NewReader(image)); putErr != nil {
			row.Status = models.DerivedArtifactStatusFailed
			row.Error = putErr.Error()
		} else {
			row.Status = models.DerivedArtifactStatusCompleted
			row.Metadata = fmt.Sprintf(`{"byte_length":%d}`, len(image))
		}
	}

	if err := d.Lifecycle.CompleteDerivedArtifact(ctx, job, row); err != nil {
		logger.Warn("handlers: thumbnail sidecar upsert failed", "file_id", file.ID, "error", err)
	}
}

// handleURLIngest fetches a URL ingest's source (its MediaFile.DisplayName
// holds the URL, per ingest.Coordinator.IngestURL), stores it under the
// same artifact key a local upload would use, and enqueues the
// transcription job — completing the "identically to a local upload"
// handoff spec §4.5 describes for URL ingest.
func (d Deps) handleURLIngest(ctx context.Context, job dispatch.Job, report dispatch.ProgressFunc) error {
	if d.alreadyHandled(ctx, job) {
		return nil
	}

	file, err := d.Store.GetFile(ctx, job.FileID)
	if err != nil {
		return pipeline.NewError("url_ingest", pipeline.FailureTransientInfra, err)
	}

	p := download.New(d.DownloadConfig)
	result, err := p.Run(ctx, file.DisplayName, sinkFor(report), d.cancelChecker(job))
	if err != nil {
		return err
	}

	observedHash, err := contenthash.Hash(bytes.NewReader(result.Body), int64(len(result.Body)))
	if err != nil {
		return pipeline.NewError("url_ingest", pipeline.FailureUnknown, err)
	}

	if _, err := d.Artifacts.Put(ctx, file.StoragePath, bytes.NewReader(result.Body)); err != nil {
		return pipeline.NewError("url_ingest", pipeline.FailureTransientInfra, err)
	}

	file.ContentHash = observedHash
	file.ByteLength = int64(len(result.Body))
	file.MimeClass = result.MimeClass
	if err := d.Store.UpdateFileAttributes(ctx, file); err != nil {
		return pipeline.NewError("url_ingest", pipeline.FailureTransientInfra, err)
	}

	if err := d.enqueueFollowOn(ctx, file.Owner, file.ID, models.TaskKindTranscription, broker.QueueGPU); err != nil {
		return pipeline.NewError("url_ingest", pipeline.FailureTransientInfra, err)
	}

	d.markHandled(ctx, job)
	return nil
}

// enqueueFollowOn creates a task row and dispatcher job for a stage that
// runs after the one currently completing, mirroring
// ingest.Coordinator.Upload's own enqueue of the first transcription job.
// Used both by URL ingest (handing off to transcription) and by a completed
// transcription (handing off to the waveform/thumbnail utility job, spec
// §4.7 step 5). A nil Dispatcher skips the follow-on: url_ingest treats that
// as a configuration error by requiring one, while a completed transcription
// only logs it, since the transcript itself is already durably persisted.
func (d Deps) enqueueFollowOn(ctx context.Context, owner, fileID string, kind models.TaskKind, queue string) error {
	if d.Dispatcher == nil {
		return fmt.Errorf("no dispatcher configured")
	}

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
	if err := d.Store.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create %s task: %w", kind, err)
	}

	_, err := d.Dispatcher.Enqueue(ctx, queue, dispatch.Job{
		ID:     uuid.New().String(),
		TaskID: taskID,
		FileID: fileID,
		Kind:   string(kind),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	return nil
}

// transcriptSegment is the joined shape both summarization and analytics
// need: a stored segment plus its speaker's display label.
type transcriptSegment struct {
	SpeakerLabel string
	StartTime    float64
	EndTime      float64
	Text         string
}

func (d Deps) loadTranscript(ctx context.Context, fileID string) ([]transcriptSegment, error) {
	segments, err := d.Store.ListSegments(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	speakers, err := d.Store.ListSpeakersForFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("list speakers: %w", err)
	}
	labels := make(map[string]string, len(speakers))
	for _, sp := range speakers {
		labels[sp.ID] = sp.Label
	}

	out := make([]transcriptSegment, len(segments))
	for i, seg := range segments {
		label := "unknown"
		if seg.SpeakerID != nil {
			if l, ok := labels[*seg.SpeakerID]; ok {
				label = l
			}
		}
		out[i] = transcriptSegment{SpeakerLabel: label, StartTime: seg.StartTime, EndTime: seg.EndTime, Text: seg.Text}
	}
	return out, nil
}
