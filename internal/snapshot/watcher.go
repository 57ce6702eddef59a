package snapshot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher turns filesystem events on the addon file into wake-ups. The game
// rewrites SavedVariables through a temp file and rename, so the directory
// is watched and events are filtered by name. Wake-ups are advisory: the
// modification time check in Source stays authoritative.
type Watcher struct {
	watcher *fsnotify.Watcher
	name    string
	changes chan struct{}
	logger  zerolog.Logger
}

func NewWatcher(path string, logger zerolog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		watcher: w,
		name:    filepath.Base(path),
		changes: make(chan struct{}, 1),
		logger:  logger,
	}, nil
}

func (w *Watcher) Changes() <-chan struct{} { return w.changes }

// Run forwards matching events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}
