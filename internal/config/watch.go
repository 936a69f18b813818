package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Config from disk whenever the backing file changes and
// hands the new value to OnChange. It never mutates an in-flight Config in
// place; callers that hold an older *Config keep seeing the old values
// until they pick up the new one.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewWatcher opens an fsnotify watch on the directory containing path (not
// the file itself: many editors and config-management tools replace the
// file via rename rather than in-place write, which a direct file watch
// would miss).
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	return &Watcher{path: path, watcher: fw}, nil
}

// Watch blocks, invoking onChange with the freshly loaded and validated
// Config every time the watched file is written or replaced. A load/parse
// failure is reported via onError and does not stop the watch. Returns when
// ctx is done.
func (w *Watcher) Watch(ctx context.Context, onChange func(*Config), onError func(error)) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				onError(err)
				continue
			}
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			onError(err)
		}
	}
}
