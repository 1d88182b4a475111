package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch watches path for writes and reloads r's Table on each one,
// following 0xcro3dile-localrag-go's FSNotifyWatcher shape (a single
// fsnotify.Watcher draining Events/Errors in a goroutine). Reload
// failures are logged and leave the previous Table in place, since a
// half-written config file must never take down already-running child
// servers (spec.md §4.7 hot-reload).
//
// The returned stop func closes the underlying watcher; callers should
// defer it.
func Watch(r *Resolver, path string, log *slog.Logger) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				table, err := Load(path)
				if err != nil {
					log.Warn("config reload failed, keeping previous table", "path", path, "error", err)
					continue
				}
				r.Replace(table)
				log.Info("config reloaded", "path", path, "languages", len(table))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", err)
			}
		}
	}()

	return watcher.Close, nil
}
