package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"hivemind/internal/logging"
)

// Watch monitors the workspace config file and invokes onChange with the
// freshly loaded config whenever it is rewritten. Invalid edits are logged
// and ignored; the previous config stays in effect. Watch returns when ctx
// is cancelled.
func Watch(ctx context.Context, workspace string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files, which drops the watch
	// on the file itself.
	if err := watcher.Add(filepath.Join(workspace, ".hivemind")); err != nil {
		return err
	}

	target := Path(workspace)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := Load(workspace)
			if err != nil {
				logging.Get(logging.CategoryBoot).Warn("config reload failed, keeping previous: %v", err)
				continue
			}
			logging.SetLevel(cfg.Logging.Level)
			if err := logging.ReloadConfig(); err != nil {
				logging.Get(logging.CategoryBoot).Warn("logging reload failed: %v", err)
			}
			if onChange != nil {
				onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryBoot).Warn("config watcher error: %v", err)
		}
	}
}
