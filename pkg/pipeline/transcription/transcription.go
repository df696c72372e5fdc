// Package transcription implements the transcription pipeline (spec §4.7):
// language detection, segmentation, word-level alignment, diarization and
// garbage-word cleanup, producing segments, speakers and embeddings for the
// Task Lifecycle Manager to persist.
package transcription

import (
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/opentranscribe/mpo/pkg/pipeline"
)

// Segment is one decoded span of speech, prior to persistence.
type Segment struct {
	SpeakerLabel string
	StartTime    float64
	EndTime      float64
	Text         string
}

// SpeakerResult is one detected speaker with its embedding.
type SpeakerResult struct {
	Label     string
	Embedding []byte
}

// Result is the pipeline's output, handed to the Task Lifecycle Manager for
// transactional persistence (spec §4.7 step 5).
type Result struct {
	DurationSec float64
	Segments    []Segment
	Speakers    []SpeakerResult
}

// Engine performs the actual model inference. It is intentionally opaque —
// the concrete ASR/diarization models are out of scope (spec Non-goals) —
// so any backend (local model server, hosted API) can be wired in.
type Engine interface {
	Transcribe(ctx context.Context, audio io.Reader) (*Result, error)
}

// CleanupConfig controls the garbage-word replacement rule (spec §4.7 step 3).
type CleanupConfig struct {
	Enabled         bool
	MinTokenLength  int
	ReplacementText string
}

// DefaultCleanupConfig matches the spec's default marker text.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{Enabled: true, MinTokenLength: 20, ReplacementText: "[background noise]"}
}

// Pipeline runs transcription end-to-end for a single file.
type Pipeline struct {
	engine  Engine
	cleanup CleanupConfig
}

// New builds a Pipeline. Run polls its cancelled checker at the one
// suspension point, before invoking the engine.
func New(engine Engine, cleanup CleanupConfig) *Pipeline {
	return &Pipeline{engine: engine, cleanup: cleanup}
}

// Run acquires nothing itself — audio is streamed in by the caller (from
// C1) — and delegates to the engine, then applies garbage-word cleanup
// before returning.
func (p *Pipeline) Run(ctx context.Context, audio io.Reader, sink pipeline.ProgressSink, cancelled pipeline.CancelChecker) (*Result, error) {
	if cancelled != nil {
		if stop, err := cancelled(ctx); err != nil {
			return nil, pipeline.NewError("transcription", pipeline.FailureTransientInfra, err)
		} else if stop {
			return nil, pipeline.NewError("transcription", pipeline.FailureCancelled, pipeline.ErrCancelled)
		}
	}

	if sink != nil {
		_ = sink.Report(ctx, "transcription", 0, "starting engine inference")
	}

	result, err := p.engine.Transcribe(ctx, audio)
	if err != nil {
		return nil, pipeline.NewError("transcription", pipeline.FailureTransientInfra, err)
	}

	if p.cleanup.Enabled {
		for i := range result.Segments {
			result.Segments[i].Text = cleanText(result.Segments[i].Text, p.cleanup)
		}
	}

	if sink != nil {
		_ = sink.Report(ctx, "transcription", 1, "complete")
	}
	return result, nil
}

// cleanText replaces tokens longer than MinTokenLength that contain no
// whitespace with the configured marker (spec §4.7 step 3).
func cleanText(text string, cfg CleanupConfig) string {
	fields := strings.Fields(text)
	for i, tok := range fields {
		if utf8.RuneCountInString(tok) > cfg.MinTokenLength && !strings.ContainsAny(tok, " \t\n") {
			fields[i] = cfg.ReplacementText
		}
	}
	return strings.Join(fields, " ")
}
