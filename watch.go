package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher regenerates the IOC configuration whenever the settings file
// or a hardware profile changes.
type ConfigWatcher struct {
	watcher     *fsnotify.Watcher
	configPath  string
	profilesDir string
	debounce    time.Duration
	regenerate  func() error
	logger      *slog.Logger
}

// NewConfigWatcher watches the directory holding configPath and, if it exists,
// profilesDir. Directories are watched rather than files so that editors which
// replace the file on save are still seen.
func NewConfigWatcher(configPath, profilesDir string, debounce time.Duration, regenerate func() error, logger *slog.Logger) (*ConfigWatcher, error) {
	configPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", configPath, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	cw := &ConfigWatcher{
		watcher:    watcher,
		configPath: configPath,
		debounce:   debounce,
		regenerate: regenerate,
		logger:     logger,
	}

	configDir := filepath.Dir(configPath)
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", configDir, err)
	}
	logger.Info("watching settings file", "path", configPath)

	if profilesDir != "" {
		if abs, err := filepath.Abs(profilesDir); err == nil {
			if info, err := os.Stat(abs); err == nil && info.IsDir() {
				if err := watcher.Add(abs); err != nil {
					logger.Warn("failed to watch profiles directory", "path", abs, "error", err)
				} else {
					cw.profilesDir = abs
					logger.Info("watching profiles directory", "path", abs)
				}
			}
		}
	}

	return cw, nil
}

// Run processes file system events until ctx is cancelled. Rapid successive
// writes are collapsed into one regeneration after the debounce period.
// Regeneration failures are logged and do not stop the watcher.
func (cw *ConfigWatcher) Run(ctx context.Context) error {
	defer cw.watcher.Close()

	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if !cw.relevant(event) {
				continue
			}
			cw.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			fire = time.After(cw.debounce)

		case <-fire:
			fire = nil
			if err := cw.regenerate(); err != nil {
				cw.logger.Error("regeneration failed", "error", err)
				continue
			}
			cw.logger.Info("regenerated after settings change")

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			cw.logger.Error("file watcher error", "error", err)

		case <-ctx.Done():
			cw.logger.Info("stopping settings watcher")
			return nil
		}
	}
}

func (cw *ConfigWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	if name == cw.configPath {
		return true
	}
	if cw.profilesDir == "" || filepath.Dir(name) != cw.profilesDir {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
