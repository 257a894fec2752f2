package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchDebounce coalesces the write bursts editors produce on save.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watch calls onChange after path is written, created, renamed or removed,
// at most once per quiet period. The parent directory is watched so editors
// that replace the file atomically are seen. Watch blocks until ctx ends;
// a change still pending at that point is dropped.
func Watch(ctx context.Context, path string, quiet time.Duration, logger *zap.SugaredLogger, onChange func()) error {
	if quiet <= 0 {
		quiet = DefaultWatchDebounce
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	debounced := debounce.New(quiet)
	relevant := fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		onChange()
	}

	for {
		select {
		case <-ctx.Done():
			debounced(func() {})
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Op&relevant == 0 {
				continue
			}
			debounced(fire)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("file watcher error", "path", path, "error", err)
		}
	}
}
