package runtime

import (
	"time"

	"github.com/nx/nxclaw/internal/agentsvc"
)

// GetState returns the aggregate runtime status the dashboard and TUI
// console poll (spec §4.6 auxiliary op `getState`).
func (o *Orchestrator) GetState(includeAutonomousLoop, includeEvents bool) StateSnapshot {
	snap := StateSnapshot{
		GeneratedAt:    time.Now().UTC(),
		QueueDepth:     o.deps.Queue.Depth(),
		ActiveSessions: o.deps.Sessions.Len(),
		Channels:       o.SnapshotChannels(),
	}
	if includeEvents && o.deps.Bus != nil {
		snap.RecentEvents = o.deps.Bus.GetRecent(50)
	}
	return snap
}

// ListConversationSessions lists lanes, optionally scoped to a base lane key
// prefix ("source:channel").
func (o *Orchestrator) ListConversationSessions(baseLaneKeyPrefix string) []*agentsvc.Session {
	return o.deps.Sessions.List(baseLaneKeyPrefix)
}

// CreateConversationSession eagerly creates (or returns) a lane's session.
func (o *Orchestrator) CreateConversationSession(source, channelID, sessionID string) (*agentsvc.Session, error) {
	sess, err := o.deps.Sessions.Acquire(source, channelID, sessionID, func(laneKey string) (interface{}, error) {
		return o.deps.NewBrain(laneKey)
	})
	if err != nil {
		return nil, err
	}
	o.deps.Sessions.Release(agentsvc.LaneKey(source, channelID, sessionID))
	return sess, nil
}

// ArchiveConversationSession force-evicts a lane regardless of running
// state.
func (o *Orchestrator) ArchiveConversationSession(laneKey string) bool {
	return o.deps.Sessions.Archive(laneKey)
}

// SetChannelHealth records the last-known reachability of a channel
// adapter, surfaced via GetState.
func (o *Orchestrator) SetChannelHealth(channel string, healthy bool, detail string) {
	o.channelsMu.Lock()
	defer o.channelsMu.Unlock()
	o.channels[channel] = ChannelHealth{Healthy: healthy, Detail: detail, UpdatedAt: time.Now().UTC()}
}

// SnapshotChannels returns a copy of the current channel health map.
func (o *Orchestrator) SnapshotChannels() map[string]ChannelHealth {
	o.channelsMu.RLock()
	defer o.channelsMu.RUnlock()
	out := make(map[string]ChannelHealth, len(o.channels))
	for k, v := range o.channels {
		out[k] = v
	}
	return out
}

// Shutdown flushes the dashboard snapshot one last time. Subsystem
// lifecycles (task manager, chrome controller, bus) are owned and closed by
// the caller (cmd/nxclaw), since the orchestrator does not own their
// construction.
func (o *Orchestrator) Shutdown() {
	o.persistState()
}
