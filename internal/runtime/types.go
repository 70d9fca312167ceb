// Package runtime implements the orchestrator: handleIncoming, prompt
// composition, overflow recovery, and channel health tracking (spec §4.6).
package runtime

import (
	"context"
	"time"
)

// Incoming identifies where a message came from.
type Incoming struct {
	Source    string
	ChannelID string
	UserID    string
	SessionID string
}

// Brain is the LLM client collaborator. The runtime package owns none of
// the provider-specific plumbing; callers hand it a constructor.
type Brain interface {
	Prompt(ctx context.Context, sessionID, prompt string) (string, error)
}

// NewBrainFn constructs (or looks up) the Brain backing a lane. It is called
// at most once per lane, by agentsvc.Registry.Acquire.
type NewBrainFn func(laneKey string) (Brain, error)

// Config bounds the orchestrator per spec §6's runtime.* option table.
type Config struct {
	PromptTimeoutMs               int
	MaxPromptRetries              int
	MaxQueueDepth                 int
	MaxOverflowCompactionAttempts int
	MaxSessionLanes               int
	MaxSessionIdleMinutes         int
	MaxStoredTasks                int
	MaxFinishedTasks              int
}

func (c *Config) applyDefaults() {
	if c.PromptTimeoutMs <= 0 {
		c.PromptTimeoutMs = 60_000
	}
	if c.MaxPromptRetries <= 0 {
		c.MaxPromptRetries = 3
	}
	if c.MaxOverflowCompactionAttempts <= 0 {
		c.MaxOverflowCompactionAttempts = 2
	}
	if c.MaxSessionLanes <= 0 {
		c.MaxSessionLanes = 50
	}
	if c.MaxSessionIdleMinutes <= 0 {
		c.MaxSessionIdleMinutes = 30
	}
}

func (c Config) idleTimeout() time.Duration {
	return time.Duration(c.MaxSessionIdleMinutes) * time.Minute
}

// ChannelHealth is the last-known reachability of a channel adapter.
type ChannelHealth struct {
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StateSnapshot is the aggregate returned by GetState, mirrored to
// <home>/state/dashboard.json after each successful handleIncoming call.
type StateSnapshot struct {
	GeneratedAt    time.Time                `json:"generatedAt"`
	QueueDepth     int                      `json:"queueDepth"`
	ActiveSessions int                      `json:"activeSessions"`
	Channels       map[string]ChannelHealth `json:"channels"`
	Autonomous     interface{}              `json:"autonomousLoop,omitempty"`
	RecentEvents   interface{}              `json:"recentEvents,omitempty"`
}
