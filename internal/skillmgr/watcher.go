package skillmgr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher emits a signal when any SKILL.md-backed skill source changes,
// grounded on internal/skills/watcher.go, trimmed to this repo's flatter
// skill directory layout (no scripts/references/assets subdirectories).
type Watcher struct {
	dirs   []string
	logger *slog.Logger
	events chan struct{}
}

func NewWatcher(dirs []string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	cp := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if strings.TrimSpace(d) != "" {
			cp = append(cp, d)
		}
	}
	return &Watcher{dirs: cp, logger: logger, events: make(chan struct{}, 16)}
}

// Events fires (non-blocking, best-effort) after a debounced burst of
// filesystem changes under a watched skill directory.
func (w *Watcher) Events() <-chan struct{} { return w.events }

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skillmgr: new watcher: %w", err)
	}

	addDir := func(dir string) {
		abs, err := filepath.Abs(dir)
		if err != nil {
			w.logger.Warn("skillmgr watcher: abs failed", "dir", dir, "error", err)
			return
		}
		if err := fsw.Add(abs); err != nil {
			if !os.IsNotExist(err) {
				w.logger.Warn("skillmgr watcher: add failed", "dir", abs, "error", err)
			}
			return
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return
		}
		for _, ent := range entries {
			if ent.IsDir() {
				_ = fsw.Add(filepath.Join(abs, ent.Name()))
			}
		}
	}
	for _, dir := range w.dirs {
		addDir(dir)
	}

	go func() {
		defer func() {
			_ = fsw.Close()
			close(w.events)
		}()

		var pending bool
		var timer *time.Timer
		var timerC <-chan time.Time
		flush := func() {
			if !pending {
				return
			}
			pending = false
			select {
			case w.events <- struct{}{}:
			default:
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if ev.Op&fsnotify.Create != 0 {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						_ = fsw.Add(ev.Name)
					}
				}
				base := filepath.Base(ev.Name)
				if base != "SKILL.md" && filepath.Ext(base) != ".wasm" {
					continue
				}
				pending = true
				if timer == nil {
					timer = time.NewTimer(150 * time.Millisecond)
				} else if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
					timer.Reset(150 * time.Millisecond)
				}
				timerC = timer.C
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("skillmgr watcher error", "error", err)
			case <-timerC:
				flush()
				timerC = nil
			}
		}
	}()

	return nil
}
