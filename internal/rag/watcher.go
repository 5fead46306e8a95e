package rag

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// rebuildDebounce batches bursts of filesystem events (editors write several
// times per save) into a single index rebuild.
const rebuildDebounce = 500 * time.Millisecond

// Watcher rebuilds the engine's index when knowledge files change on disk.
type Watcher struct {
	engine   *Engine
	dir      string
	notifier *fsnotify.Watcher
	stopChan chan struct{}
	logger   zerolog.Logger
}

// NewWatcher creates a watcher over the engine's knowledge directory.
func NewWatcher(engine *Engine, dir string) (*Watcher, error) {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		engine:   engine,
		dir:      dir,
		notifier: notifier,
		stopChan: make(chan struct{}),
		logger:   log.With().Str("component", "rag-watcher").Logger(),
	}, nil
}

// Start begins watching for knowledge changes. Watch failures are logged;
// the engine keeps serving the last built index either way.
func (w *Watcher) Start() error {
	if err := w.notifier.Add(w.dir); err != nil {
		w.logger.Warn().Err(err).Str("path", w.dir).Msg("Failed to watch knowledge directory")
		return err
	}

	go w.watchForChanges()
	w.logger.Info().Str("path", w.dir).Msg("Watching knowledge directory for changes")
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stopChan:
		return
	default:
		close(w.stopChan)
	}
	w.notifier.Close()
}

func (w *Watcher) watchForChanges() {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.notifier.Events:
			if !ok {
				return
			}
			if !isKnowledgeFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Knowledge file changed")
			if debounce == nil {
				debounce = time.AfterFunc(rebuildDebounce, w.engine.Rebuild)
			} else {
				debounce.Reset(rebuildDebounce)
			}

		case err, ok := <-w.notifier.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Knowledge watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func isKnowledgeFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}
