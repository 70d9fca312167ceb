// Package autoloop drives the runtime forward between user turns: a ticker
// that periodically picks an objective (or a maintenance fallback) and
// routes it through the same orchestrator user turns go through, with
// pressure-based skipping and a consecutive-failure circuit breaker
// (spec §4.7).
package autoloop

import "time"

// Config bounds the autonomous loop's tick behavior.
type Config struct {
	// IntervalMs is the tick period; spec §4.7 requires >= 5s.
	IntervalMs int

	// SkipWhenQueueAbove skips a tick when the orchestrator's lane queue
	// depth exceeds this value.
	SkipWhenQueueAbove int

	// MaxConcurrentTasks mirrors tasks.Config.MaxConcurrentProcesses; the
	// loop derives its own queued/failed pressure thresholds from it
	// (3x for queued, max(6, n) for failed) rather than reaching into
	// internal/tasks' config directly.
	MaxConcurrentTasks int

	// MaxConsecutiveFailures trips the circuit breaker.
	MaxConsecutiveFailures int

	// FallbackGoal is used to build a maintenance prompt when no objective
	// is pickable.
	FallbackGoal string

	// PendingMaxAge and InProgressMaxIdle are passed to
	// objectives.Store.ExpireStale on every tick.
	PendingMaxAge     time.Duration
	InProgressMaxIdle time.Duration
}

func (c *Config) applyDefaults() {
	if c.IntervalMs <= 0 {
		c.IntervalMs = 5 * 60 * 1000
	}
	if c.SkipWhenQueueAbove <= 0 {
		c.SkipWhenQueueAbove = 5
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 4
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.FallbackGoal == "" {
		c.FallbackGoal = "Review recent activity, tidy up loose ends, and note anything worth a new objective."
	}
	if c.PendingMaxAge <= 0 {
		c.PendingMaxAge = 7 * 24 * time.Hour
	}
	if c.InProgressMaxIdle <= 0 {
		c.InProgressMaxIdle = 2 * time.Hour
	}
}

func (c Config) interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Status is the loop's externally-visible state, surfaced through the
// dashboard/state snapshot and the TUI console.
type Status struct {
	Enabled             bool
	DisabledReason      string
	Running             bool
	ConsecutiveFailures int
	LastTickAt          time.Time
	LastSkipReason      string
	LastObjectiveID     string
	TicksFired          int
	TicksSkipped        int
}
