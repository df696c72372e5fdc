package recovery

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/opentranscribe/mpo/internal/logger"
	"github.com/opentranscribe/mpo/pkg/lifecycle"
	"github.com/opentranscribe/mpo/pkg/lifecycle/checkpoint"
	"github.com/opentranscribe/mpo/pkg/settings"
	"github.com/opentranscribe/mpo/pkg/store"
)

// Stats summarizes a single sweep.
type Stats struct {
	StaleProcessingFound int
	OrphansMarked        int
	StalePendingFound    int
	StalePendingDeleted  int
	CancellingFinalized  int
	Errors               int
}

// Options configures a sweep.
type Options struct {
	// StuckWindow is how long a Processing file can go without a progress
	// update before it's considered orphaned (spec §4.8).
	StuckWindow time.Duration

	// StalePendingWindow is how long an upload can sit without completing
	// before it's eligible for cleanup.
	StalePendingWindow time.Duration

	// CancelDeadline is how long a Cancelling file may wait for its worker
	// to acknowledge before being force-finalized.
	CancelDeadline time.Duration

	// DryRun reports findings without mutating state.
	DryRun bool

	// ProgressCallback, if non-nil, is invoked after each category is swept.
	ProgressCallback func(Stats)
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.StuckWindow == 0 {
		out.StuckWindow = 15 * time.Minute
	}
	if out.StalePendingWindow == 0 {
		out.StalePendingWindow = 24 * time.Hour
	}
	if out.CancelDeadline == 0 {
		out.CancelDeadline = 2 * time.Minute
	}
	return out
}

// checkpointRetention bounds how long a completed job ID stays recorded in
// the dedup-state cache; past this, a redelivery is vanishingly unlikely and
// the entry is just using up disk space.
const checkpointRetention = 72 * time.Hour

// Sweeper periodically reconciles media files whose owning worker died
// mid-task.
type Sweeper struct {
	store       store.MediaFileStore
	checkpoints *checkpoint.Store
	notifier    lifecycle.Notifier
	liveOptions atomic.Pointer[Options]

	settingsCache    *settings.Cache
	settingsStore    store.SettingsStore
	settingsFallback settings.Snapshot
}

// New builds a Sweeper over the metadata store's MediaFile operations.
func New(s store.MediaFileStore) *Sweeper {
	return &Sweeper{store: s}
}

// SetNotifier attaches the notification bus so a sweep can publish
// recovery_suggested events (spec §4.10) for the owners of files it acts
// on. Passing nil disables publishing; the zero value (no call to
// SetNotifier) has the same effect.
func (s *Sweeper) SetNotifier(n lifecycle.Notifier) {
	s.notifier = n
}

// SetCheckpoints attaches the Task Lifecycle Manager's dedup-state cache so
// each sweep also prunes old completion records. Passing nil disables
// pruning; the zero value (no call to SetCheckpoints) has the same effect.
func (s *Sweeper) SetCheckpoints(c *checkpoint.Store) {
	s.checkpoints = c
}

// SetOptions replaces the windows Run uses for its next tick onward, letting
// a config reload take effect without restarting the sweep goroutine.
// Manual sweeps triggered through the operator API are unaffected: they
// always pass their own Options explicitly.
func (s *Sweeper) SetOptions(o *Options) {
	s.liveOptions.Store(o)
}

// SetSettings attaches the process-wide settings Cache so each sweep also
// refreshes it from the SettingsStore, giving pipelines a settings reload
// that doesn't depend on a config file change. fallback is used for any key
// with no row in the store. Passing a nil cache disables the refresh.
func (s *Sweeper) SetSettings(cache *settings.Cache, settingsStore store.SettingsStore, fallback settings.Snapshot) {
	s.settingsCache = cache
	s.settingsStore = settingsStore
	s.settingsFallback = fallback
}

// Sweep runs one reconciliation pass and returns its statistics. It never
// returns an error; individual failures are counted in Stats.Errors and
// logged, so a single bad row cannot halt the reaper's periodic loop.
func (s *Sweeper) Sweep(ctx context.Context, opts *Options) Stats {
	o := opts.withDefaults()
	stats := Stats{}

	now := time.Now()

	stale, err := s.store.ListStaleProcessing(ctx, now.Add(-o.StuckWindow))
	if err != nil {
		logger.Error("recovery: list stale processing failed", "error", err)
		stats.Errors++
	} else {
		stats.StaleProcessingFound = len(stale)
		orphanedByOwner := make(map[string][]string)
		for _, f := range stale {
			if ctx.Err() != nil {
				return stats
			}
			if o.DryRun {
				continue
			}
			if err := s.store.TransitionToOrphaned(ctx, f.ID); err != nil {
				logger.Warn("recovery: failed to orphan stuck file", "file_id", f.ID, "error", err)
				stats.Errors++
				continue
			}
			stats.OrphansMarked++
			logger.Info("recovery: marked stuck file orphaned", "file_id", f.ID, "recovery_attempts", f.RecoveryAttempts+1)
			orphanedByOwner[f.Owner] = append(orphanedByOwner[f.Owner], f.ID)
		}
		s.publishRecoverySuggested(ctx, orphanedByOwner)
	}
	if o.ProgressCallback != nil {
		o.ProgressCallback(stats)
	}

	pending, err := s.store.ListStalePending(ctx, now.Add(-o.StalePendingWindow))
	if err != nil {
		logger.Error("recovery: list stale pending failed", "error", err)
		stats.Errors++
	} else {
		stats.StalePendingFound = len(pending)
		for _, f := range pending {
			if ctx.Err() != nil {
				return stats
			}
			logger.Warn("recovery: stale pending upload detected", "file_id", f.ID, "created_at", f.CreatedAt)
			if o.DryRun {
				continue
			}
			if err := s.store.DeleteFile(ctx, f.ID); err != nil {
				logger.Warn("recovery: failed to delete stale pending upload", "file_id", f.ID, "error", err)
				stats.Errors++
				continue
			}
			stats.StalePendingDeleted++
		}
	}
	if o.ProgressCallback != nil {
		o.ProgressCallback(stats)
	}

	overdue, err := s.store.ListOverdueCancelling(ctx, now.Add(-o.CancelDeadline))
	if err != nil {
		logger.Error("recovery: list overdue cancelling failed", "error", err)
		stats.Errors++
	} else {
		for _, f := range overdue {
			if ctx.Err() != nil {
				return stats
			}
			if o.DryRun {
				continue
			}
			if err := s.store.TransitionToCancelled(ctx, f.ID, true); err != nil {
				logger.Warn("recovery: failed to force-finalize cancelling file", "file_id", f.ID, "error", err)
				stats.Errors++
				continue
			}
			stats.CancellingFinalized++
			logger.Info("recovery: force-finalized overdue cancellation", "file_id", f.ID)
		}
	}
	if o.ProgressCallback != nil {
		o.ProgressCallback(stats)
	}

	if s.checkpoints != nil && !o.DryRun {
		if err := s.checkpoints.Sweep(ctx, checkpointRetention); err != nil {
			logger.Warn("recovery: checkpoint sweep failed", "error", err)
			stats.Errors++
		}
	}

	if s.settingsCache != nil && !o.DryRun {
		if err := s.settingsCache.Refresh(ctx, s.settingsStore, s.settingsFallback); err != nil {
			logger.Warn("recovery: settings refresh failed", "error", err)
			stats.Errors++
		}
	}

	return stats
}

// publishRecoverySuggested emits one recovery_suggested event per owner,
// each listing the file ids the sweep just marked Orphaned (spec §4.10:
// "Emits a recovery_suggested notification listing affected files for the
// owner"). A nil notifier or an owner with no affected files is a no-op.
func (s *Sweeper) publishRecoverySuggested(ctx context.Context, byOwner map[string][]string) {
	if s.notifier == nil {
		return
	}
	for owner, fileIDs := range byOwner {
		event := lifecycle.Event{
			Type: "recovery_suggested",
			Data: map[string]any{"file_ids": fileIDs},
		}
		if err := s.notifier.Publish(ctx, owner, event); err != nil {
			logger.Warn("recovery: publish recovery_suggested failed", "owner", owner, "error", err)
		}
	}
}

// Run executes Sweep on interval until ctx is cancelled. opts is the
// starting set of windows; a later SetOptions call takes effect on the next
// tick without needing to restart Run.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, opts *Options) {
	s.liveOptions.Store(opts)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, s.liveOptions.Load())
		}
	}
}
