package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher holds the live Config behind an atomic.Pointer so readers never
// observe a torn update, and re-reads+revalidates the backing file on
// every fsnotify write/create event before swapping it in. A reload that
// fails validation is logged and discarded; the previous good config
// stays active, mirroring the teacher's ConfigMap hot-reload posture
// (BR-SP-072: invalid policy -> old retained).
type Watcher struct {
	path    string
	logger  logrus.FieldLogger
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
}

// NewWatcher loads path once synchronously (returning any load error to
// the caller, since a process shouldn't start on a broken config) and
// arms an fsnotify watch on it.
func NewWatcher(path string, logger logrus.FieldLogger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, logger: logger, watcher: fw}
	w.current.Store(&cfg)
	return w, nil
}

// Current returns the active config. Safe to call concurrently with Run.
func (w *Watcher) Current() Config {
	return *w.current.Load()
}

// Run drains fsnotify events until Close is called, which closes the
// underlying watcher's event and error channels. It blocks, so callers run
// it in its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("config reload failed validation, keeping previous config")
		return
	}
	w.current.Store(&cfg)
	w.logger.Info("config reloaded")
}

// Close stops the underlying fsnotify watcher, causing Run to return.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
