package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the mapping template whenever the override file
// changes on disk. Watching the parent directory survives the
// rename-then-write dance most editors do.
type Watcher struct {
	path    string
	builder *Builder
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

func NewWatcher(path string, builder *Builder, logger *slog.Logger) (*Watcher, error) {
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:    path,
		builder: builder,
		logger:  logger,
		watcher: fileWatcher,
	}, nil
}

func (w *Watcher) Start(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch template directory: %w", err)
	}
	if err := w.builder.LoadFile(w.path); err != nil {
		w.logger.Warn("initial template load failed, keeping built-in", "path", w.path, "error", err)
	} else {
		w.logger.Info("mapping template loaded", "path", w.path)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("template watcher stopped")
			return nil
		case event := <-w.watcher.Events:
			w.handleEvent(event)
		case err := <-w.watcher.Errors:
			if err != nil {
				w.logger.Error("template watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if err := w.builder.LoadFile(w.path); err != nil {
		w.logger.Warn("template reload failed, keeping previous", "path", w.path, "error", err)
		return
	}
	w.logger.Info("mapping template reloaded", "path", w.path)
}
