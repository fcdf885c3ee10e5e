package menu

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Loader serves the current manifest and hot-reloads it when the file
// changes on disk. A malformed rewrite keeps the last good manifest.
type Loader struct {
	path    string
	logger  *logrus.Logger
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	manifest *Manifest

	done chan struct{}
	once sync.Once
}

// NewLoader reads the manifest once and starts watching its directory.
// Watching the directory instead of the file survives editors that
// replace the file via rename.
func NewLoader(path string, logger *logrus.Logger) (*Loader, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch manifest directory: %w", err)
	}

	l := &Loader{
		path:     path,
		logger:   logger,
		watcher:  watcher,
		manifest: m,
		done:     make(chan struct{}),
	}
	go l.watch()
	return l, nil
}

// Manifest returns the current manifest
func (l *Loader) Manifest() *Manifest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.manifest
}

// Close stops the watcher
func (l *Loader) Close() error {
	l.once.Do(func() {
		close(l.done)
	})
	return l.watcher.Close()
}

func (l *Loader) watch() {
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			l.reload()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.WithError(err).Warn("menu manifest watcher error")
		}
	}
}

func (l *Loader) reload() {
	m, err := LoadManifest(l.path)
	if err != nil {
		l.logger.WithError(err).Error("failed to reload menu manifest, keeping previous")
		return
	}
	l.mu.Lock()
	l.manifest = m
	l.mu.Unlock()
	l.logger.WithField("path", l.path).Info("menu manifest reloaded")
}
