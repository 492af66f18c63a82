package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the config file on change and swaps the result into cfg
// via ReplaceFrom, then calls onReload (may be nil). Editors rename over
// the file, so the watch is on the parent directory. Returns a stop
// function.
func Watch(ctx context.Context, path string, cfg *Config, logger *slog.Logger, onReload func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		watchLoop(ctx, watcher, path, cfg, logger, onReload)
	}()

	stop := func() {
		cancel()
		watcher.Close()
		wg.Wait()
	}
	return stop, nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, cfg *Config, logger *slog.Logger, onReload func(*Config)) {
	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			fresh, err := Load(path)
			if err != nil {
				logger.Warn("config.reload_failed", "path", path, "error", err)
				return
			}
			cfg.ReplaceFrom(fresh)
			logger.Info("config.reloaded", "path", path, "hash", cfg.Hash())
			if onReload != nil {
				onReload(cfg)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config.watch_error", "error", err)
		}
	}
}
