// Package artifact implements the Artifact Store Gateway (spec §4.1 C1):
// a single backend-agnostic interface over the blob storage that holds
// original uploads and generated by-products (waveforms, thumbnails),
// keyed hierarchically as {owner}/{file_uuid}/{role}.
package artifact

import (
	"context"
	"io"
	"time"
)

// Role identifies which artifact of a media file a key refers to.
type Role string

const (
	RoleOriginal  Role = "original"
	RoleWaveform  Role = "waveform"
	RoleThumbnail Role = "thumbnail"
)

// Key builds the hierarchical storage key for an artifact.
func Key(owner, fileID string, role Role) string {
	return owner + "/" + fileID + "/" + string(role)
}

// PutResult reports what happened during a Put.
type PutResult struct {
	ByteLength int64
}

// Gateway is the backend-agnostic artifact storage interface. Every method
// maps a single logical operation onto whichever concrete backend (S3,
// local filesystem) is configured; callers never branch on backend type.
type Gateway interface {
	// Put uploads content for key, reading it to completion.
	Put(ctx context.Context, key string, r io.Reader) (*PutResult, error)

	// Get returns the full content for key. The caller must Close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Stream reads length bytes of key starting at offset, for byte-range
	// playback and partial waveform/thumbnail reads. The caller must Close it.
	Stream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// PresignGet returns a time-limited URL a client can use to fetch key
	// directly from the backend, bypassing the orchestrator for playback.
	// Backends without native presigning (local filesystem) return
	// KindUnknown-classified errors; callers should fall back to Get/Stream.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Size returns the byte length of the stored object.
	Size(ctx context.Context, key string) (int64, error)

	// Healthcheck verifies the backend is reachable.
	Healthcheck(ctx context.Context) error
}
