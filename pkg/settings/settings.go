// Package settings holds the process-wide, reloadable-on-demand settings a
// pipeline may consult mid-run, backed by store.SettingsStore (spec §6).
// An operator edits a row through the internal API; the next periodic
// refresh (piggybacked on the recovery reaper's cadence) picks it up without
// a restart.
package settings

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/opentranscribe/mpo/pkg/store"
)

// Key names for the settings this cache currently drives. Other packages
// that grow a reloadable knob add their own keys here the same way.
const (
	KeyTranscriptionCleanupEnabled        = "transcription.cleanup.enabled"
	KeyTranscriptionCleanupMinTokenLength = "transcription.cleanup.min_token_length"
	KeyTranscriptionCleanupReplacement    = "transcription.cleanup.replacement_text"
)

// Snapshot is an immutable view of the current settings. Replacing one
// atomically in Cache is how a reload takes effect without a restart.
type Snapshot struct {
	TranscriptionCleanupEnabled         bool
	TranscriptionCleanupMinTokenLength  int
	TranscriptionCleanupReplacementText string
}

// Cache holds the current Snapshot behind an atomic pointer so readers never
// block on a writer mid-refresh.
type Cache struct {
	current atomic.Pointer[Snapshot]
}

// NewCache builds a Cache seeded with an initial Snapshot — normally the
// process's compiled-in defaults, before any SettingsStore override lands.
func NewCache(initial Snapshot) *Cache {
	c := &Cache{}
	c.current.Store(&initial)
	return c
}

// Snapshot returns the current settings. Safe for concurrent use.
func (c *Cache) Snapshot() Snapshot {
	return *c.current.Load()
}

// Refresh reloads overrides from s on top of fallback and atomically
// replaces the cache's Snapshot. A key absent from the store keeps
// fallback's value for that field, so a partial override never zeroes out
// the rest of the snapshot.
func (c *Cache) Refresh(ctx context.Context, s store.SettingsStore, fallback Snapshot) error {
	next := fallback

	v, err := s.GetSetting(ctx, KeyTranscriptionCleanupEnabled)
	if err != nil {
		return err
	}
	if v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			next.TranscriptionCleanupEnabled = parsed
		}
	}

	v, err = s.GetSetting(ctx, KeyTranscriptionCleanupMinTokenLength)
	if err != nil {
		return err
	}
	if v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			next.TranscriptionCleanupMinTokenLength = parsed
		}
	}

	v, err = s.GetSetting(ctx, KeyTranscriptionCleanupReplacement)
	if err != nil {
		return err
	}
	if v != "" {
		next.TranscriptionCleanupReplacementText = v
	}

	c.current.Store(&next)
	return nil
}
