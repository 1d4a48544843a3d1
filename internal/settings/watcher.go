package settings

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a directory for changes to settings.yaml and reloads
// the associated Store in place. Rapid successive writes typically
// produce a single fsnotify event; no additional debouncing is applied.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// WatchFile is the settings filename the watcher reacts to, matched by
// base name regardless of the directory path reported by fsnotify.
const WatchFile = "settings.yaml"

// NewWatcher starts watching dir for changes to settings.yaml, reloading
// store from the file at path whenever one is observed.
func NewWatcher(dir, path string, store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("settings: creating file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("settings: watching directory %s: %w", dir, err)
	}

	w := &Watcher{fsWatcher: fw, done: make(chan struct{})}
	go w.processEvents(path, store)

	slog.Info("settings file watcher started", "dir", dir)
	return w, nil
}

func (w *Watcher) processEvents(path string, store *Store) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(event.Name) != WatchFile {
				continue
			}

			loaded, err := Load(path)
			if err != nil {
				slog.Error("settings reload failed", "error", err)
				continue
			}
			if err := store.Update(*loaded); err != nil {
				slog.Error("settings reload rejected", "error", err)
				continue
			}
			slog.Info("settings reloaded", "cache_mode", loaded.Cache.Mode, "intervene", loaded.Intervene)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("settings file watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
