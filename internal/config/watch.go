package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "github.com/VectorBarks/openclaw-plugin-nightshift/pkg/logx"
)

// Watch re-reads the config file when it changes on disk and invokes onChange
// with each successfully parsed config. Invalid files are logged and skipped;
// the previous config stays in effect.
//
// Scheduling settings are immutable for the process lifetime; the app layer
// applies only the safe subset (logging) from reloaded configs.
//
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(*Config)) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	// Debounce so editors that write in multiple steps don't trigger
	// a reload of a partially written file.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload skipped: file invalid", logx.String("path", path), logx.Err(err))
				return
			}
			log.Info("config reloaded", logx.String("path", path))
			onChange(cfg)
		})
	}

	// When fsnotify gets into a bad state the watcher may stop delivering
	// events or close its channels. Self-heal by recreating it with backoff.
	backoff := 250 * time.Millisecond
	const backoffMax = 5 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = minDur(backoff*2, backoffMax)
			continue
		}
		if err := w.Add(dir); err != nil {
			log.Warn("config watch add failed", logx.Err(err), logx.String("dir", dir))
			_ = w.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = minDur(backoff*2, backoffMax)
			continue
		}
		backoff = 250 * time.Millisecond

		if !runWatcher(ctx, w, base, debounce, log) {
			_ = w.Close()
			return
		}
		_ = w.Close()
	}
}

// runWatcher returns false when ctx is done, true when the watcher should be recreated.
func runWatcher(ctx context.Context, w *fsnotify.Watcher, base string, debounce func(), log logx.Logger) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return true
			}
			log.Debug("config watch error", logx.Err(err))
		}
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
