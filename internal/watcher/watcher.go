// Package watcher reloads the model when the fallback checkpoint file
// changes on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceWindow = 500 * time.Millisecond

// ReloadFunc resolves and installs a model. Errors are logged, not fatal:
// the previously installed model keeps serving.
type ReloadFunc func(ctx context.Context) error

type Watcher struct {
	path     string
	reload   ReloadFunc
	debounce time.Duration
	logger   *zap.Logger
}

func New(path string, reload ReloadFunc, logger *zap.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		reload:   reload,
		debounce: debounceWindow,
		logger:   logger,
	}
}

// Start watches the checkpoint file until ctx is cancelled. The parent
// directory is watched rather than the file itself so atomic replaces
// (write to temp, rename over) are seen.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.logger.Info("watching fallback checkpoint",
		zap.String("path", w.path))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Info("fallback checkpoint changed, reloading",
				zap.String("path", w.path))
			if err := w.reload(ctx); err != nil {
				w.logger.Warn("reload after file change failed",
					zap.String("path", w.path), zap.Error(err))
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
