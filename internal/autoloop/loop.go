package autoloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/objectives"
	"github.com/nx/nxclaw/internal/runtime"
)

// Event topics, grounded on the teacher's engine/loop.go topic-constant
// pattern (EventLoopStarted etc.), renamed to this loop's own vocabulary.
const (
	EventTick     = "autoloop.tick"
	EventSkip     = "autoloop.skip"
	EventFailure  = "autoloop.failure"
	EventDisabled = "autoloop.disabled"
)

// Deps wires the loop to the orchestrator and objective store it drives.
type Deps struct {
	Orchestrator *runtime.Orchestrator
	Objectives   *objectives.Store
	Bus          *bus.Bus
	Logger       *slog.Logger
}

// Loop is the ticker described in spec §4.7, grounded on
// internal/cron/scheduler.go's Start/Stop/ticker shape and
// internal/engine/heartbeat.go's skip-if-nothing-to-do tick body, with the
// consecutive-failure circuit breaker adapted from
// internal/engine/failover.go's CircuitBreaker.
type Loop struct {
	deps Deps
	cfg  Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu                  sync.Mutex
	enabled             bool
	disabledReason      string
	tickRunning         bool
	consecutiveFailures int
	lastTickAt          time.Time
	lastSkipReason      string
	lastObjectiveID     string
	ticksFired          int
	ticksSkipped        int
}

// New creates a Loop. It does not start ticking until Start is called.
func New(deps Deps, cfg Config) *Loop {
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Loop{deps: deps, cfg: cfg, enabled: true}
}

// Start begins ticking in a background goroutine until the context is
// cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run(ctx)
	l.deps.Logger.Info("autoloop: started", "intervalMs", l.cfg.IntervalMs)
}

// Stop cancels the loop and waits for the current tick, if any, to finish.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	l.deps.Logger.Info("autoloop: stopped")
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick implements the skip-condition ladder and single autonomous turn
// described in spec §4.7.
func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	if !l.enabled {
		reason := l.disabledReason
		l.mu.Unlock()
		l.recordSkip("disabled: " + reason)
		return
	}
	if l.tickRunning {
		l.mu.Unlock()
		l.recordSkip("previous tick still running")
		return
	}
	l.tickRunning = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.tickRunning = false
		l.lastTickAt = time.Now().UTC()
		l.mu.Unlock()
	}()

	if l.deps.Orchestrator.Busy() {
		l.recordSkip("runtime busy")
		return
	}
	if depth := l.deps.Orchestrator.QueueDepth(); depth > l.cfg.SkipWhenQueueAbove {
		l.recordSkip(fmt.Sprintf("queue depth %d exceeds %d", depth, l.cfg.SkipWhenQueueAbove))
		return
	}
	health := l.deps.Orchestrator.TaskHealth()
	if health.Queued > 3*l.cfg.MaxConcurrentTasks {
		l.recordSkip(fmt.Sprintf("task queue depth %d exceeds %d", health.Queued, 3*l.cfg.MaxConcurrentTasks))
		return
	}
	failedThreshold := l.cfg.MaxConcurrentTasks
	if failedThreshold < 6 {
		failedThreshold = 6
	}
	if health.Failed > failedThreshold {
		l.recordSkip(fmt.Sprintf("recent task failures %d exceeds %d", health.Failed, failedThreshold))
		return
	}

	l.fire(ctx)
}

// fire reloads the objective queue, picks work, and routes one autonomous
// turn through the orchestrator.
func (l *Loop) fire(ctx context.Context) {
	var prompt string
	var objectiveID string

	if l.deps.Objectives != nil {
		l.deps.Objectives.ExpireStale(l.cfg.PendingMaxAge, l.cfg.InProgressMaxIdle)
		if obj := l.deps.Objectives.PickForAutonomous(); obj != nil {
			if picked, err := l.deps.Objectives.MarkPicked(obj.ID); err == nil {
				objectiveID = picked.ID
				prompt = fmt.Sprintf("Autonomous objective %s (priority %d): %s\n\n%s",
					picked.ID, picked.Priority, picked.Title, picked.Description)
			}
		}
	}
	if prompt == "" {
		prompt = "Maintenance tick. " + l.cfg.FallbackGoal
	}

	l.mu.Lock()
	l.lastObjectiveID = objectiveID
	l.ticksFired++
	l.mu.Unlock()
	l.emit(EventTick, map[string]string{"objectiveId": objectiveID})

	reply := l.deps.Orchestrator.HandleIncoming(ctx, runtime.Incoming{
		Source:    "autonomous",
		ChannelID: "autonomous",
		SessionID: "autonomous",
	}, prompt)

	if strings.HasPrefix(reply, "Runtime error:") {
		l.recordFailure(reply)
		return
	}
	l.recordSuccess()
}

func (l *Loop) recordSkip(reason string) {
	l.mu.Lock()
	l.lastSkipReason = reason
	l.ticksSkipped++
	l.mu.Unlock()
	l.deps.Logger.Debug("autoloop: tick skipped", "reason", reason)
	l.emit(EventSkip, map[string]string{"reason": reason})
}

func (l *Loop) recordFailure(detail string) {
	l.mu.Lock()
	l.consecutiveFailures++
	failures := l.consecutiveFailures
	trip := failures >= l.cfg.MaxConsecutiveFailures
	if trip {
		l.enabled = false
		l.disabledReason = fmt.Sprintf("tripped after %d consecutive failures: %s", failures, detail)
	}
	reason := l.disabledReason
	l.mu.Unlock()

	l.deps.Logger.Warn("autoloop: tick failed", "consecutiveFailures", failures, "detail", detail)
	l.emit(EventFailure, map[string]string{"detail": detail})
	if trip {
		l.deps.Logger.Error("autoloop: circuit breaker tripped, disabling", "reason", reason)
		l.emit(EventDisabled, map[string]string{"reason": reason})
	}
}

func (l *Loop) recordSuccess() {
	l.mu.Lock()
	l.consecutiveFailures = 0
	l.mu.Unlock()
}

func (l *Loop) emit(topic string, payload interface{}) {
	if l.deps.Bus != nil {
		l.deps.Bus.Publish(topic, payload)
	}
}

// Enable clears a tripped circuit breaker and resumes ticking.
func (l *Loop) Enable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = true
	l.disabledReason = ""
	l.consecutiveFailures = 0
}

// Disable stops future ticks with an operator-supplied reason.
func (l *Loop) Disable(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = false
	l.disabledReason = reason
}

// Status returns a snapshot of the loop's current state.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Enabled:             l.enabled,
		DisabledReason:      l.disabledReason,
		Running:             l.tickRunning,
		ConsecutiveFailures: l.consecutiveFailures,
		LastTickAt:          l.lastTickAt,
		LastSkipReason:      l.lastSkipReason,
		LastObjectiveID:     l.lastObjectiveID,
		TicksFired:          l.ticksFired,
		TicksSkipped:        l.ticksSkipped,
	}
}
