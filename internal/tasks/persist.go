package tasks

import (
	"time"

	"github.com/nx/nxclaw/internal/fsutil"
)

// schedulePersist coalesces multiple mutations within PersistDebounce into a
// single write, matching spec §4.2's "a debounce timer coalesces multiple
// writes within a short window".
func (m *Manager) schedulePersist() {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	m.persistDirty = true
	if m.persistTimer != nil {
		return
	}
	m.persistTimer = time.AfterFunc(m.cfg.PersistDebounce, m.flushPersist)
}

func (m *Manager) flushPersist() {
	m.persistMu.Lock()
	m.persistTimer = nil
	dirty := m.persistDirty
	m.persistDirty = false
	m.persistMu.Unlock()
	if !dirty {
		return
	}

	m.mu.Lock()
	list := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		cp.timer = nil
		cp.cancel = nil
		cp.waiters = nil
		list = append(list, &cp)
	}
	m.mu.Unlock()

	if err := fsutil.WriteJSONAtomic(m.path, fileFormat{Tasks: list}); err != nil {
		m.logger.Warn("tasks: persist failed", "error", err)
	}
}

// Close stops all schedule timers and flushes any pending persistence write.
// It does not cancel running tasks.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, t := range m.tasks {
		if t.timer != nil {
			t.timer.Stop()
		}
	}
	if m.wakeTimer != nil {
		m.wakeTimer.Stop()
	}
	m.mu.Unlock()
	m.flushPersist()
}
