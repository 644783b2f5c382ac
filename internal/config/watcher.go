package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounce window for editors that write a file in several events.
const watchDebounce = 500 * time.Millisecond

// ConnectionsWatcher monitors the connections file for external edits and
// invokes a reload callback when it changes.
type ConnectionsWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	onReload func()
}

// NewConnectionsWatcher creates a watcher for the given connections file.
func NewConnectionsWatcher(path string, onReload func()) (*ConnectionsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ConnectionsWatcher{
		path:     path,
		watcher:  watcher,
		stopChan: make(chan struct{}),
		onReload: onReload,
	}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself so atomic rename-style saves are still observed.
func (w *ConnectionsWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.watch()
	log.Debug().Str("path", w.path).Msg("Watching connections file for changes")
	return nil
}

// Stop ends watching.
func (w *ConnectionsWatcher) Stop() {
	close(w.stopChan)
	_ = w.watcher.Close()
}

func (w *ConnectionsWatcher) watch() {
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
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
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(watchDebounce, func() {
				log.Info().Str("path", w.path).Msg("Connections file changed on disk, reloading")
				w.onReload()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Connections watcher error")

		case <-w.stopChan:
			return
		}
	}
}
