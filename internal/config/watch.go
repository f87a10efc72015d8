package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch watches the YAML config file (and the .env file, if present) for
// changes and invokes onChange with the freshly reloaded Config whenever
// either is written. The returned stop function closes the underlying
// watcher; callers should defer it.
func Watch(configPath string, onChange func(Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watchDir := filepath.Dir(configPath)
	if watchDir != "" {
		_ = watcher.Add(watchDir)
	}
	_ = watcher.Add(".")

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				base := filepath.Base(event.Name)
				if base != filepath.Base(configPath) && base != ".env" {
					continue
				}
				cfg, err := Load(configPath)
				if err != nil {
					slog.Warn("config reload failed", "error", err)
					continue
				}
				onChange(cfg)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", werr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
