package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reindexWatcher watches the memory root for .md changes and schedules a
// debounced reindex per path, grounded on the teacher's fsnotify-based
// config watcher pattern.
type reindexWatcher struct {
	store    *Store
	debounce time.Duration
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped chan struct{}
}

func newReindexWatcher(store *Store, debounce time.Duration) (*reindexWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{store.rootDir, store.dailyDir, store.sessionDir} {
		_ = fsw.Add(dir)
	}
	return &reindexWatcher{
		store:    store,
		debounce: debounce,
		fsw:      fsw,
		timers:   map[string]*time.Timer{},
		stopped:  make(chan struct{}),
	}, nil
}

func (w *reindexWatcher) start(ctx context.Context) {
	go func() {
		for {
			select {
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, ".md") {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				w.scheduleDebounced(ev.Name)
			case _, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
			case <-ctx.Done():
				w.stop()
				return
			case <-w.stopped:
				return
			}
		}
	}()
}

func (w *reindexWatcher) scheduleDebounced(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		sourceType := classifySourceType(w.store, path)
		w.store.scheduleReindex(path, sourceType)
	})
}

func (w *reindexWatcher) stop() {
	select {
	case <-w.stopped:
		return
	default:
		close(w.stopped)
	}
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	_ = w.fsw.Close()
}
