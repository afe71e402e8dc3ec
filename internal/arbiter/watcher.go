package arbiter

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SettingsWatcher watches the daemon's settings file and invokes a
// callback when some other process rewrites it. The parent directory
// is watched rather than the file itself because the daemon replaces
// the file on save.
type SettingsWatcher struct {
	path     string
	onChange func()

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSettingsWatcher creates a watcher for the given settings file.
// The callback runs on the watcher goroutine and must not block.
func NewSettingsWatcher(path string, onChange func()) *SettingsWatcher {
	return &SettingsWatcher{
		path:     path,
		onChange: onChange,
	}
}

// Start begins watching. Returns an error if the parent directory
// cannot be watched, which usually means the daemon has never run.
func (w *SettingsWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.run(watcher, w.done)

	slog.Debug("watching settings file", "path", w.path)
	return nil
}

// Stop halts the watcher. Safe to call when not started.
func (w *SettingsWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return
	}
	w.watcher.Close()
	<-w.done
	w.watcher = nil
	w.done = nil
}

func (w *SettingsWatcher) run(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	base := filepath.Base(w.path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			slog.Debug("settings file changed", "op", event.Op.String())
			w.onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("settings watcher error", "error", err)
		}
	}
}
