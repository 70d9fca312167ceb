package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/fsutil"
	"github.com/nx/nxclaw/internal/otelx"
	"github.com/nx/nxclaw/internal/shared"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Manager is the single-writer, atomically-persisted task supervisor. All
// task-list mutation happens on whichever goroutine calls in (spec §4.2:
// "a single runtime thread of control mutates the task list and the
// queue"); Manager's own mutex only protects that invariant against the
// caller's concurrent RunCommand/Stop/Tail calls and the background
// goroutines each launched child reports back on.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	tasks    map[string]*Task
	path     string
	logDir   string
	executor Executor
	bus      *bus.Bus
	logger   *slog.Logger
	tracer   trace.Tracer

	running     int
	dispatching bool
	wakeTimer   *time.Timer

	persistMu    sync.Mutex
	persistTimer *time.Timer
	persistDirty bool
}

// Open loads a persisted task list from path (creating an empty one if
// absent), reinstalls schedule timers, and re-enqueues any command task
// that was running or queued at last shutdown.
func Open(path, logDir string, cfg Config, executor Executor, b *bus.Bus, logger *slog.Logger) (*Manager, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if executor == nil {
		executor = HostExecutor{}
	}
	m := &Manager{
		cfg:      cfg,
		tasks:    map[string]*Task{},
		path:     path,
		logDir:   logDir,
		executor: executor,
		bus:      b,
		logger:   logger,
		tracer:   nooptrace.NewTracerProvider().Tracer(otelx.TracerName),
	}

	var ff fileFormat
	if err := fsutil.ReadJSON(path, &ff); err == nil {
		for _, t := range ff.Tasks {
			m.tasks[t.ID] = t
		}
	}

	m.mu.Lock()
	for _, t := range m.tasks {
		switch {
		case t.IsSchedule:
			t.Status = StatusRunning
			m.installScheduleTimerLocked(t)
		case t.Status == StatusRunning || t.Status == StatusQueued:
			t.Status = StatusQueued
			t.RetryAt = nil
		}
	}
	m.mu.Unlock()

	m.schedulePersist()
	m.dispatch()
	return m, nil
}

// SetTracer overrides the manager's tracer, used to wrap each launched
// command in a span (spec §6.11). Call before any command is submitted.
func (m *Manager) SetTracer(tracer trace.Tracer) {
	if tracer != nil {
		m.tracer = tracer
	}
}

// RunCommand implements the runCommand operation. It blocks until
// completion unless background is true.
func (m *Manager) RunCommand(ctx context.Context, command, workingDir string, timeoutMs, maxRetries, retryDelayMs int, background, dedupeRunning bool) (*Task, error) {
	return m.submit(ctx, command, workingDir, timeoutMs, maxRetries, retryDelayMs, background, false, dedupeRunning)
}

// EnqueueCommand implements enqueueCommand: always background, always
// forced through the queue rather than launched immediately.
func (m *Manager) EnqueueCommand(ctx context.Context, command, workingDir string, timeoutMs, maxRetries, retryDelayMs int) (*Task, error) {
	return m.submit(ctx, command, workingDir, timeoutMs, maxRetries, retryDelayMs, true, true, false)
}

func (m *Manager) submit(ctx context.Context, command, workingDir string, timeoutMs, maxRetries, retryDelayMs int, background, forceQueue, dedupeRunning bool) (*Task, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, ErrMissingCommand
	}
	if err := checkDenyList(command); err != nil {
		return nil, err
	}
	maxRetries = clampRetries(maxRetries, m.cfg.DefaultMaxRetries)
	retryDelayMs = clampRetryDelay(retryDelayMs, m.cfg.DefaultRetryDelayMs)

	m.mu.Lock()
	if dedupeRunning {
		if existing := m.findRunningLocked(command, workingDir); existing != nil {
			if !background {
				m.awaitLocked(existing)
			}
			m.mu.Unlock()
			return existing, nil
		}
	}

	now := time.Now().UTC()
	t := &Task{
		ID:         shared.NewID(),
		Command:    command,
		WorkingDir: workingDir,
		Background: background,
		ForceQueue: forceQueue,
		TimeoutMs:  timeoutMs,
		MaxRetries: maxRetries,
		RetryDelay: retryDelayMs,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.LogPath = m.logPath(t.ID)
	m.tasks[t.ID] = t
	m.pruneLocked()
	m.mu.Unlock()

	m.emit("task.created", t)
	m.schedulePersist()
	m.dispatch()

	if !background {
		m.mu.Lock()
		m.awaitLocked(t)
		m.mu.Unlock()
	}
	return t, nil
}

// awaitLocked blocks until t reaches a terminal state. Caller must hold m.mu
// on entry; it is released while waiting and re-acquired before returning.
func (m *Manager) awaitLocked(t *Task) {
	if t.Status.terminal() {
		return
	}
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	m.mu.Unlock()
	<-ch
	m.mu.Lock()
}

func (m *Manager) findRunningLocked(command, workingDir string) *Task {
	for _, t := range m.tasks {
		if t.Command == command && t.WorkingDir == workingDir && (t.Status == StatusRunning || t.Status == StatusQueued) {
			return t
		}
	}
	return nil
}

// ScheduleCommand implements scheduleCommand: persists a schedule task
// (status "running" as a sentinel) and installs a repeating timer that
// launches a fresh child command on every tick.
func (m *Manager) ScheduleCommand(command, workingDir string, intervalMs int) (*Task, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, ErrMissingCommand
	}
	if intervalMs < 1000 {
		return nil, ErrBadInterval
	}
	if err := checkDenyList(command); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &Task{
		ID:         shared.NewID(),
		Command:    command,
		WorkingDir: workingDir,
		IsSchedule: true,
		IntervalMs: intervalMs,
		Status:     StatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.LogPath = m.logPath(t.ID)

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.installScheduleTimerLocked(t)
	m.mu.Unlock()

	m.emit("task.scheduled", t)
	m.schedulePersist()
	return t, nil
}

func (m *Manager) installScheduleTimerLocked(t *Task) {
	interval := time.Duration(t.IntervalMs) * time.Millisecond
	t.timer = time.AfterFunc(interval, func() { m.fireSchedule(t.ID) })
}

func (m *Manager) fireSchedule(scheduleID string) {
	m.mu.Lock()
	sched, ok := m.tasks[scheduleID]
	if !ok || sched.Status == StatusCancelled || sched.Status == StatusStopped {
		m.mu.Unlock()
		return
	}
	sched.timer = time.AfterFunc(time.Duration(sched.IntervalMs)*time.Millisecond, func() { m.fireSchedule(scheduleID) })
	command, workingDir, maxRetries, retryDelay, timeoutMs := sched.Command, sched.WorkingDir, m.cfg.DefaultMaxRetries, m.cfg.DefaultRetryDelayMs, sched.TimeoutMs
	m.mu.Unlock()

	if _, err := m.submit(context.Background(), command, workingDir, timeoutMs, maxRetries, retryDelay, true, true, false); err != nil {
		m.logger.Warn("tasks: schedule tick launch failed", "scheduleId", scheduleID, "error", err)
	}
}

// Stop implements stop: cancels any timer, dequeues, terminates a running
// child, and marks the task cancelled. Returns false if taskId is unknown.
func (m *Manager) Stop(taskID string) bool {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.cancel != nil {
		t.cancel()
	}
	if t.IsSchedule {
		t.Status = StatusStopped
	} else if !t.Status.terminal() {
		t.Status = StatusCancelled
	}
	t.UpdatedAt = time.Now().UTC()
	m.notifyWaitersLocked(t)
	m.mu.Unlock()

	m.emit("task.stopped", t)
	m.schedulePersist()
	return true
}

// Tail implements tail: reads the log file's last n lines, falling back to
// the in-memory tail buffer when the file is absent.
func (m *Manager) Tail(taskID string, lines int) ([]string, error) {
	if lines < 1 {
		lines = 1
	}
	if lines > 500 {
		lines = 500
	}
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("tasks: unknown task %q", taskID)
	}

	if t.LogPath != "" {
		if _, statErr := os.Stat(t.LogPath); statErr == nil {
			out, err := fsutil.TailLines(t.LogPath, lines)
			if err != nil {
				return nil, fmt.Errorf("tasks: tail %s: %w", taskID, err)
			}
			return out, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tail := t.tail
	if len(tail) > lines {
		tail = tail[len(tail)-lines:]
	}
	return append([]string(nil), tail...), nil
}

// List implements list: a snapshot sorted by updatedAt desc.
func (m *Manager) List(includeFinished bool) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if !includeFinished && t.Status.terminal() {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// GetHealth implements getHealth.
func (m *Manager) GetHealth() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	var h Health
	for _, t := range m.tasks {
		switch {
		case t.IsSchedule:
			h.Schedules++
		case t.Status == StatusQueued:
			h.Queued++
		case t.Status == StatusRunning:
			h.Running++
		case t.Status == StatusCompleted:
			h.Completed++
		case t.Status == StatusFailed:
			h.Failed++
		}
	}
	return h
}

// GetQueueSnapshot implements getQueueSnapshot: earliest-retryAt-first
// preview of up to limit queued tasks.
func (m *Manager) GetQueueSnapshot(limit int) []QueuePreview {
	if limit <= 0 {
		limit = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var queued []*Task
	for _, t := range m.tasks {
		if !t.IsSchedule && t.Status == StatusQueued {
			queued = append(queued, t)
		}
	}
	sort.Slice(queued, func(i, j int) bool { return effectiveRetryAt(queued[i]).Before(effectiveRetryAt(queued[j])) })
	if len(queued) > limit {
		queued = queued[:limit]
	}
	out := make([]QueuePreview, 0, len(queued))
	for _, t := range queued {
		out = append(out, QueuePreview{ID: t.ID, Command: t.Command, RetryAt: t.RetryAt, Attempts: t.Attempts})
	}
	return out
}

func effectiveRetryAt(t *Task) time.Time {
	if t.RetryAt != nil {
		return *t.RetryAt
	}
	return t.CreatedAt
}

func (m *Manager) logPath(taskID string) string {
	if taskID == "" || m.logDir == "" {
		return ""
	}
	return filepath.Join(m.logDir, taskID+".log")
}

func (m *Manager) emit(eventType string, t *Task) {
	if m.bus != nil {
		m.bus.Publish(eventType, map[string]interface{}{"taskId": t.ID, "status": t.Status, "command": t.Command})
	}
}

func (m *Manager) notifyWaitersLocked(t *Task) {
	for _, ch := range t.waiters {
		close(ch)
	}
	t.waiters = nil
}
