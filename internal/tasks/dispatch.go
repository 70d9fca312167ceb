package tasks

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/nx/nxclaw/internal/fsutil"
	"github.com/nx/nxclaw/internal/otelx"
)

// dispatch is the queue dispatch loop (spec §4.2): a single-shot reentrancy
// guard, then while free slots exist it launches the earliest queued task
// whose retryAt has elapsed. If items remain with a future retryAt, a single
// wakeup timer is armed for their minimum retryAt.
func (m *Manager) dispatch() {
	m.mu.Lock()
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	defer func() {
		m.mu.Lock()
		m.dispatching = false
		m.mu.Unlock()
	}()

	for {
		if m.running >= m.cfg.MaxConcurrentProcesses {
			m.mu.Unlock()
			return
		}
		next, wakeAt := m.pickNextLocked()
		if next == nil {
			if wakeAt != nil {
				m.armWakeLocked(*wakeAt)
			}
			m.mu.Unlock()
			return
		}
		m.running++
		next.Status = StatusRunning
		next.Attempts++
		next.RetryAt = nil
		next.UpdatedAt = time.Now().UTC()
		m.mu.Unlock()

		m.emit("task.started", next)
		go m.runTask(next)

		m.mu.Lock()
	}
}

// pickNextLocked returns the earliest-ready queued task, or nil plus the
// minimum future retryAt among not-yet-ready queued tasks. Caller holds m.mu.
func (m *Manager) pickNextLocked() (*Task, *time.Time) {
	now := time.Now().UTC()
	var best *Task
	var minFuture *time.Time
	for _, t := range m.tasks {
		if t.IsSchedule || t.Status != StatusQueued {
			continue
		}
		if t.RetryAt != nil && t.RetryAt.After(now) {
			if minFuture == nil || t.RetryAt.Before(*minFuture) {
				minFuture = t.RetryAt
			}
			continue
		}
		if best == nil || t.CreatedAt.Before(best.CreatedAt) {
			best = t
		}
	}
	return best, minFuture
}

func (m *Manager) armWakeLocked(at time.Time) {
	if m.wakeTimer != nil {
		m.wakeTimer.Stop()
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	m.wakeTimer = time.AfterFunc(d, m.dispatch)
}

// runTask executes the launch protocol for a single attempt: spawn, wire
// output into the per-task log and tail buffer, apply the timeout, then
// resolve to completed/re-queued/failed.
func (m *Manager) runTask(t *Task) {
	ctx := context.Background()
	ctx, span := otelx.StartTaskSpan(ctx, m.tracer, t.ID, t.Command)
	defer span.End()

	var cancel context.CancelFunc
	if t.TimeoutMs > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.TimeoutMs)*time.Millisecond)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	m.mu.Lock()
	t.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	stdout, stderr, exitCode, spawnErr := m.executor.Exec(ctx, t.Command, t.WorkingDir)

	m.mu.Lock()
	m.appendOutputLocked(t, stdout, stderr)
	m.running--
	now := time.Now().UTC()
	t.UpdatedAt = now
	t.cancel = nil

	switch {
	case t.Status == StatusCancelled || t.Status == StatusStopped:
		// Stop() already set the terminal status; a kill-induced spawn error
		// or nonzero exit here must not overwrite it.
		m.notifyWaitersLocked(t)
		m.mu.Unlock()
		m.emit("task.stopped", t)
	case spawnErr != nil:
		t.Status = StatusFailed
		t.Error = spawnErr.Error()
		m.notifyWaitersLocked(t)
		m.mu.Unlock()
		m.emit("task.failed", t)
	case exitCode == 0:
		t.Status = StatusCompleted
		t.ExitCode = &exitCode
		m.notifyWaitersLocked(t)
		m.pruneLocked()
		m.mu.Unlock()
		m.emit("task.completed", t)
	case t.Attempts <= t.MaxRetries:
		delay := time.Duration(t.RetryDelay) * time.Millisecond
		if delay < retryDelayFloorMs*time.Millisecond {
			delay = retryDelayFloorMs * time.Millisecond
		}
		retryAt := now.Add(delay)
		t.RetryAt = &retryAt
		t.Status = StatusQueued
		t.ExitCode = &exitCode
		t.Error = stderr
		m.mu.Unlock()
		m.emit("task.retry", t)
	default:
		t.Status = StatusFailed
		t.ExitCode = &exitCode
		t.Error = stderr
		m.notifyWaitersLocked(t)
		m.pruneLocked()
		m.mu.Unlock()
		m.emit("task.failed", t)
	}

	m.schedulePersist()
	m.dispatch()
}

// appendOutputLocked splits the completed attempt's captured output into
// lines, appends them to the per-task log file, and keeps a bounded
// in-memory tail for when the log file cannot be written. Caller holds m.mu.
func (m *Manager) appendOutputLocked(t *Task, stdout, stderr string) {
	var lines []string
	for _, s := range []string{stdout, stderr} {
		sc := bufio.NewScanner(strings.NewReader(s))
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
	}
	if len(lines) == 0 {
		return
	}
	t.tail = append(t.tail, lines...)
	if len(t.tail) > tailBufferLines {
		t.tail = t.tail[len(t.tail)-tailBufferLines:]
	}
	if t.LogPath != "" {
		if err := fsutil.AppendLine(t.LogPath, strings.Join(lines, "\n")); err != nil {
			m.logger.Warn("tasks: append log failed", "taskId", t.ID, "error", err)
		}
	}
}

// pruneLocked drops the oldest finished tasks beyond MaxFinishedTasks and,
// separately, the oldest tasks of any kind beyond MaxStoredTasks. Schedules
// and non-terminal tasks are never pruned. Caller holds m.mu.
func (m *Manager) pruneLocked() {
	var finished []*Task
	for _, t := range m.tasks {
		if !t.IsSchedule && t.Status.terminal() {
			finished = append(finished, t)
		}
	}
	if len(finished) > m.cfg.MaxFinishedTasks {
		sortByUpdatedDesc(finished)
		for _, t := range finished[m.cfg.MaxFinishedTasks:] {
			delete(m.tasks, t.ID)
		}
	}
	if len(m.tasks) > m.cfg.MaxStoredTasks {
		var all []*Task
		for _, t := range m.tasks {
			if !t.IsSchedule && t.Status.terminal() {
				all = append(all, t)
			}
		}
		sortByUpdatedDesc(all)
		excess := len(m.tasks) - m.cfg.MaxStoredTasks
		for i := len(all) - 1; i >= 0 && excess > 0; i-- {
			delete(m.tasks, all[i].ID)
			excess--
		}
	}
}

func sortByUpdatedDesc(ts []*Task) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].UpdatedAt.After(ts[j-1].UpdatedAt); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}
