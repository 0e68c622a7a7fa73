package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce batches the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

// Watch reloads the config at path whenever it changes and passes the new
// value to onChange. It blocks until ctx is cancelled. The parent directory
// is watched so atomic rename-on-save is seen.
//
// Files that fail to parse are logged and skipped; the previous config stays
// in effect.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*Config)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := zap.L().Named("config")

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if shouldIgnoreEvent(event, abs) {
				continue
			}
			if !pending {
				timer.Reset(debounce)
				pending = true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		case <-timer.C:
			pending = false
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("reload config failed", zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("reloaded config", zap.String("path", abs), zap.Int("authorized_users", len(cfg.AuthorizedUsers)))
			onChange(cfg)
		}
	}
}

func shouldIgnoreEvent(event fsnotify.Event, path string) bool {
	if filepath.Clean(event.Name) != path {
		return true
	}
	return event.Op&(fsnotify.Write|fsnotify.Create) == 0
}
