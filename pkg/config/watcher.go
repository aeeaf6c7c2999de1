package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/newswire/pkg/observability"
)

// ReloadFunc receives a freshly loaded and validated configuration
type ReloadFunc func(*Config)

// Watcher reloads the YAML overlay when it changes on disk. Only settings
// that consumers re-read through the callback take effect at runtime.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onLoad  ReloadFunc
	logger  *observability.Logger
}

// NewWatcher watches the directory containing path so that editors which
// replace the file by rename are still picked up.
func NewWatcher(path string, onLoad ReloadFunc, logger *observability.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		path:    filepath.Clean(path),
		watcher: fw,
		onLoad:  onLoad,
		logger:  logger,
	}, nil
}

// Run processes events until ctx is cancelled or the watcher is closed.
// A file that fails to load or validate is logged and the previous
// configuration stays in effect.
func (w *Watcher) Run(ctx context.Context) {
	defer observability.RecoverPanic(w.logger, "config watcher")
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.WithError(err).WithField("path", w.path).Warn("Ignoring invalid configuration change")
				continue
			}
			w.logger.WithField("path", w.path).Info("Configuration reloaded")
			if w.onLoad != nil {
				w.onLoad(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
