package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file at path whenever it changes and calls
// onChange with the result. Files that fail to load are logged and
// ignored. Watch blocks until ctx is canceled.
//
// The directory containing path is watched rather than the file itself
// so that editors that replace the file on save are handled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("watch %v: %w", filepath.Dir(path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			c, err := Load(path)
			if err != nil {
				logger.Warn("reload config", "path", path, "err", err)
				continue
			}
			logger.Info("config reloaded", "path", path)
			onChange(c)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher", "err", err)
		}
	}
}
