package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the file at path into p whenever it changes, until ctx is
// done. Invalid files are logged and the previous configuration is kept.
// onChange, if non-nil, is called with every configuration that was applied.
func Watch(ctx context.Context, path string, p *Provider, logger *slog.Logger, onChange func(Config)) error {
	logger = logger.With("component", "config")

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Editors usually replace the file, so watch the directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("config reload failed, keeping previous", "path", abs, "error", err)
				continue
			}
			p.Set(cfg)
			logger.Info("config reloaded", "path", abs, "devices", len(cfg.Devices), "master", cfg.Master)
			if onChange != nil {
				onChange(cfg)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
