// Package filewatcher provides recursive file system watching for the
// markdown tree served by mdlive.
package filewatcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event describes a debounced change to a watched file.
type Event struct {
	Path   string
	Remove bool
}

// FileWatcher watches a directory tree for changes to files matching the
// configured patterns. Subdirectories are picked up recursively, including
// ones created while watching.
type FileWatcher struct {
	watcher     *fsnotify.Watcher
	patterns    []string
	logger      *slog.Logger
	callbacks   []func(Event)
	callbacksMu sync.RWMutex
	debounceMs  int

	dirsMu sync.Mutex
	dirs   []string

	changes   map[string]Event
	changesMu sync.Mutex
	done      chan struct{}
	stopOnce  sync.Once
}

// New creates a new FileWatcher.
func New(opts ...Option) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher:    watcher,
		dirs:       []string{"."},
		patterns:   []string{"*.md"},
		logger:     slog.New(slog.NewTextHandler(os.Stderr, nil)),
		debounceMs: 300,
		changes:    make(map[string]Event),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(fw)
	}

	return fw, nil
}

// AddCallback adds a callback to be called for every debounced change.
func (fw *FileWatcher) AddCallback(callback func(Event)) {
	fw.callbacksMu.Lock()
	defer fw.callbacksMu.Unlock()
	fw.callbacks = append(fw.callbacks, callback)
}

// Start begins watching and launches the event loop.
func (fw *FileWatcher) Start() error {
	fw.dirsMu.Lock()
	dirs := append([]string(nil), fw.dirs...)
	fw.dirsMu.Unlock()

	for _, dir := range dirs {
		if err := fw.addRecursive(dir); err != nil {
			return err
		}
	}

	go fw.watchLoop()
	return nil
}

// Stop stops watching for file changes.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}

// SetDirs re-points the watcher at a new set of roots. Watches on the old
// roots are removed.
func (fw *FileWatcher) SetDirs(dirs []string) error {
	for _, old := range fw.watcher.WatchList() {
		// Removal errors for already-vanished dirs are not actionable.
		_ = fw.watcher.Remove(old)
	}

	fw.dirsMu.Lock()
	fw.dirs = append([]string(nil), dirs...)
	fw.dirsMu.Unlock()

	for _, dir := range dirs {
		if err := fw.addRecursive(dir); err != nil {
			return err
		}
	}
	return nil
}

// addRecursive registers root and every subdirectory beneath it. A file root
// is watched through its parent directory.
func (fw *FileWatcher) addRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fw.watcher.Add(filepath.Dir(root))
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			fw.logger.Debug("Watching directory", "dir", path)
			return fw.watcher.Add(path)
		}
		return nil
	})
}

func (fw *FileWatcher) watchLoop() {
	ticker := time.NewTicker(time.Duration(fw.debounceMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("Watcher error", "error", err)
		case <-ticker.C:
			fw.flushChanges()
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		// New directories must join the watch set before their contents
		// start changing.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.watcher.Add(event.Name); err != nil {
				fw.logger.Error("Failed to watch new directory", "dir", event.Name, "error", err)
			}
			return
		}
	}

	switch {
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		if fw.matchesPattern(event.Name) {
			fw.record(Event{Path: event.Name})
		}
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if fw.matchesPattern(event.Name) {
			fw.record(Event{Path: event.Name, Remove: true})
		}
	}
}

func (fw *FileWatcher) record(ev Event) {
	fw.changesMu.Lock()
	fw.changes[ev.Path] = ev
	fw.changesMu.Unlock()
}

// flushChanges delivers accumulated changes to the callbacks.
func (fw *FileWatcher) flushChanges() {
	fw.changesMu.Lock()
	if len(fw.changes) == 0 {
		fw.changesMu.Unlock()
		return
	}
	pending := make([]Event, 0, len(fw.changes))
	for path, ev := range fw.changes {
		pending = append(pending, ev)
		delete(fw.changes, path)
	}
	fw.changesMu.Unlock()

	for _, ev := range pending {
		fw.logger.Info("File changed", "file", ev.Path, "remove", ev.Remove)
		fw.notifyCallbacks(ev)
	}
}

func (fw *FileWatcher) notifyCallbacks(ev Event) {
	fw.callbacksMu.RLock()
	defer fw.callbacksMu.RUnlock()

	for _, callback := range fw.callbacks {
		callback(ev)
	}
}

// matchesPattern checks the base filename against all configured patterns.
func (fw *FileWatcher) matchesPattern(file string) bool {
	base := filepath.Base(file)

	for _, pattern := range fw.patterns {
		matched, err := filepath.Match(pattern, base)
		if err != nil {
			fw.logger.Error("Pattern match error", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
