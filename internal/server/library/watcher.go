package library

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const watchDebounce = 2 * time.Second

// TreeWatcher watches the libraries root recursively and reports which
// library changed. Events are debounced per library; bulk copies into a
// library trigger one rescan, not thousands.
type TreeWatcher struct {
	root     string
	onChange func(libraryID string)
	events   chan notify.EventInfo

	mu     sync.Mutex
	timers map[string]*time.Timer
	done   chan struct{}
}

func NewTreeWatcher(root string, onChange func(libraryID string)) *TreeWatcher {
	return &TreeWatcher{
		root:     root,
		onChange: onChange,
		events:   make(chan notify.EventInfo, 64),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
}

func (w *TreeWatcher) Start(ctx context.Context) error {
	slog.Info("tree watcher start", "dir", w.root)

	recursivePath := filepath.Join(w.root, "...")
	if err := notify.Watch(recursivePath, w.events, notify.Write, notify.Remove, notify.Rename, notify.Create); err != nil {
		return err
	}

	go w.loop(ctx)
	return nil
}

func (w *TreeWatcher) Stop() {
	notify.Stop(w.events)
	close(w.done)
	slog.Info("tree watcher stop")
}

func (w *TreeWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.events:
			if !ok {
				return
			}
			if id := w.libraryOf(ev.Path()); id != "" {
				w.schedule(id)
			}
		}
	}
}

// libraryOf maps an event path to the library id, the first path segment
// under the root. Changes directly in the root (new/removed library dirs)
// map to the dir name itself.
func (w *TreeWatcher) libraryOf(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	rel = filepath.ToSlash(rel)
	if i := strings.Index(rel, "/"); i > 0 {
		rel = rel[:i]
	}
	if strings.HasPrefix(rel, ".") {
		return ""
	}
	return rel
}

func (w *TreeWatcher) schedule(libraryID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[libraryID]; ok {
		t.Reset(watchDebounce)
		return
	}
	w.timers[libraryID] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.timers, libraryID)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		w.onChange(libraryID)
	})
}
