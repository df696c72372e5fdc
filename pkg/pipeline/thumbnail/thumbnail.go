// Package thumbnail defines the video-thumbnail utility job's extraction
// seam (spec §6 "Persisted layout" thumbnail role). No in-process video
// decoder is wired here — that would cross into in-process media
// processing, which this module's other pipelines deliberately avoid (the
// transcription Engine is likewise an external dependency, never an
// in-process model). Extractor exists so a real implementation can be
// plugged into handlers.Deps without changing the handler itself.
package thumbnail

import (
	"context"
	"errors"
	"io"
)

// ErrNotConfigured is returned by the default Extractor: no thumbnail
// backend is wired, mirroring llm.ErrNotConfigured's "not configured" shape
// for summarization.
var ErrNotConfigured = errors.New("thumbnail: no extractor configured")

// Extractor produces a still-image thumbnail from a media file's original
// bytes. Implementations decide their own output format (e.g. JPEG) and
// encode it into the returned bytes.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader) ([]byte, error)
}

type noopExtractor struct{}

func (noopExtractor) Extract(ctx context.Context, r io.Reader) ([]byte, error) {
	return nil, ErrNotConfigured
}

// Default returns the Extractor used when none is configured: every call
// fails with ErrNotConfigured.
func Default() Extractor { return noopExtractor{} }
