package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces rapid write events from editors that save
// via truncate+write or temp+rename.
const debounceWindow = 250 * time.Millisecond

// Watch reloads the config whenever <dir>/config.toml changes and passes the
// fresh copy to onChange. Invalid or unreadable files are reported through
// logf and the previous config stays in effect. Watch blocks until ctx is
// canceled.
func Watch(ctx context.Context, dir string, logf func(format string, args ...interface{}), onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: renames replace the inode.
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Join(dir, FileName)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			cfg, err := Load(dir)
			if err != nil {
				logf("config reload failed: %v", err)
				continue
			}
			logf("config reloaded from %s", target)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logf("config watcher error: %v", err)
		}
	}
}
