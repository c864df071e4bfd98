package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchPersona watches the persona prompt file and invokes onChange with the
// new contents whenever it is rewritten, until ctx is done. The parent
// directory is watched rather than the file itself so editors that replace
// the file atomically (write temp + rename) keep triggering events.
func WatchPersona(ctx context.Context, path string, logger *slog.Logger, onChange func(string)) error {
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
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
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				data, err := os.ReadFile(target)
				if err != nil {
					logger.Warn("persona reload failed", "path", target, "error", err)
					continue
				}
				logger.Info("persona reloaded", "path", target, "bytes", len(data))
				onChange(string(data))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("persona watcher error", "error", err)
			}
		}
	}()

	return nil
}
