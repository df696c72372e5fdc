package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/opentranscribe/mpo/internal/logger"
)

// WatchFile watches configPath for changes and invokes onChange with a
// freshly reloaded Config each time the file is written or replaced.
// Reload failures are passed to onChange as a non-nil error and a nil cfg;
// callers should keep running on their last-known-good Config when that
// happens rather than tearing anything down.
//
// The watch is set on configPath's parent directory, not the file itself.
// A plain single-file watch misses the common case of an editor or deploy
// tool replacing the file via a rename into place: fsnotify's watch is tied
// to the inode it resolved at Add time, and a rename swaps that inode out
// from under it without emitting another event the watcher is still
// listening for. Watching the directory and filtering by base name catches
// both an in-place write (what SaveConfig does) and a rename-replace.
//
// The returned error reports only setup failures (bad path, watcher
// creation). WatchFile runs its event loop in a background goroutine until
// ctx is cancelled.
func WatchFile(ctx context.Context, configPath string, onChange func(*Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	base := filepath.Base(configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(configPath)
				onChange(cfg, err)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config: watcher error", "error", err)
			}
		}
	}()

	return nil
}
