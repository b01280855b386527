// Package watcher translates filesystem notifications under a room's
// working directory into debounced, typed events.
//
// fsnotify only watches single directories, so subdirectories are added to
// the watch set as they appear. Writes are held back until the file has
// been quiet for a stability window because editors and compilers often
// flush a file in several bursts.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/PrajwalMundargi/codetogether-backend/internal/logging"
	"github.com/PrajwalMundargi/codetogether-backend/internal/metrics"
)

// Op classifies a watcher event.
type Op string

const (
	OpWrite  Op = "write"  // file created or changed, contents stable
	OpMkdir  Op = "mkdir"  // directory created
	OpRemove Op = "remove" // file or directory removed (or renamed away)
)

// DefaultStability is how long a file must stay quiet before its write
// event is delivered.
const DefaultStability = 500 * time.Millisecond

// Event is one stabilized filesystem change, with a slash-separated path
// relative to the watch root.
type Event struct {
	Path  string
	Op    Op
	IsDir bool
}

// Watcher watches one room's working directory tree.
type Watcher struct {
	root      string
	stability time.Duration
	fw        *fsnotify.Watcher
	events    chan Event
	done      chan struct{}

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// New starts watching root and every directory below it. The initial
// enumeration produces no events.
func New(root string, stability time.Duration) (*Watcher, error) {
	if stability == 0 {
		stability = DefaultStability
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:      root,
		stability: stability,
		fw:        fw,
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
		pending:   make(map[string]*time.Timer),
	}
	if err := w.watchRecursive(root, false); err != nil {
		fw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

// Events returns the delivery channel.
func (w *Watcher) Events() <-chan Event { return w.events }

// Done is closed when the watcher shuts down.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Close stops the watcher. Events arriving afterwards are discarded.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = make(map[string]*time.Timer)
	w.mu.Unlock()

	close(w.done)
	w.fw.Close()
}

// watchRecursive adds abs and its subdirectories to the watch set. When
// announce is true, contents found along the way are emitted as events
// (used for directories that appear fully populated, e.g. after mv).
func (w *Watcher) watchRecursive(abs string, announce bool) error {
	return filepath.Walk(abs, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel := w.rel(path)
		if rel != "" && hidden(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			if err := w.fw.Add(path); err != nil {
				logging.Warn("watch add failed", zap.String("path", path), zap.Error(err))
			}
			if announce && rel != "" {
				w.emit(Event{Path: rel, Op: OpMkdir, IsDir: true})
			}
			return nil
		}
		if announce && rel != "" {
			w.schedule(rel)
		}
		return nil
	})
}

func (w *Watcher) rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// hidden reports whether any path component is dot-prefixed.
func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logging.Warn("watcher error", zap.String("root", w.root), zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel := w.rel(ev.Name)
	if rel == "" || hidden(rel) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// A directory may arrive already populated.
			if err := w.watchRecursive(ev.Name, true); err != nil {
				logging.Warn("watch subtree failed", zap.String("path", ev.Name), zap.Error(err))
			}
			w.emit(Event{Path: rel, Op: OpMkdir, IsDir: true})
			return
		}
		w.schedule(rel)

	case ev.Op.Has(fsnotify.Write):
		w.schedule(rel)

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.cancel(rel)
		w.emit(Event{Path: rel, Op: OpRemove})
	}
}

// schedule arms (or rearms) the stability timer for a file path.
func (w *Watcher) schedule(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.pending[rel]; ok {
		t.Reset(w.stability)
		return
	}
	w.pending[rel] = time.AfterFunc(w.stability, func() {
		w.mu.Lock()
		delete(w.pending, rel)
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		// The file may have vanished while the timer ran; the remove
		// event covers that case.
		if _, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(rel))); err != nil {
			return
		}
		w.emit(Event{Path: rel, Op: OpWrite})
	})
}

func (w *Watcher) cancel(rel string) {
	w.mu.Lock()
	if t, ok := w.pending[rel]; ok {
		t.Stop()
		delete(w.pending, rel)
	}
	w.mu.Unlock()
}

func (w *Watcher) emit(e Event) {
	metrics.RecordFSEvent(string(e.Op))
	select {
	case w.events <- e:
	case <-w.done:
	}
}
