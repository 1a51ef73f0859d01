package rules

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the rule file into a Store whenever it changes on disk.
// The parent directory is watched so that atomic renames (editors, mounted
// ConfigMaps) are picked up.
type Watcher struct {
	path     string
	store    *Store
	log      *logrus.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	timerMu      sync.Mutex
	pendingTimer *time.Timer
}

// NewWatcher creates a watcher for the rule file at path.
func NewWatcher(path string, store *Store, log *logrus.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		store:    store,
		log:      log,
		watcher:  fsw,
		debounce: 500 * time.Millisecond,
	}, nil
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()
	w.log.WithField("path", w.path).Info("Watching rule file")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("Rule file watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	// ConfigMap volumes swap a ..data symlink rather than touching the file.
	base := filepath.Base(event.Name)
	if filepath.Clean(event.Name) != filepath.Clean(w.path) && base != "..data" {
		return
	}
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, w.Reload)
}

// Reload loads the rule file and swaps it in. A broken file leaves the
// active table in place.
func (w *Watcher) Reload() {
	t, err := LoadFile(w.path)
	if err != nil {
		w.log.WithError(err).Error("Rule reload failed, keeping current rules")
		return
	}
	w.store.Swap(t)
	w.log.WithFields(logrus.Fields{"path": w.path, "rules": t.Len()}).Info("Rules reloaded")
}

func (w *Watcher) stop() {
	w.timerMu.Lock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.timerMu.Unlock()
	w.watcher.Close()
}
