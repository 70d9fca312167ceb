// Package agentsvc implements the lane→session registry: creation,
// idle-timeout and LRU eviction bounded by maxSessionLanes, and a subscribe
// bridge to the event bus (spec §3 "Session lane", §4.6 step 4a).
package agentsvc

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/fsutil"
)

// Session is a per-lane conversational session. Brain is the caller-supplied
// LLM session handle (spec.md's out-of-scope `session.prompt(text)`
// collaborator); agentsvc only tracks lifecycle, not prompt semantics.
type Session struct {
	LaneKey      string    `json:"laneKey"`
	BaseLaneKey  string    `json:"baseLaneKey"`
	Source       string    `json:"source"`
	ChannelID    string    `json:"channelId"`
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
	MessageCount int       `json:"messageCount"`

	Brain interface{} `json:"-"`

	elem *list.Element // position in the LRU list; nil while running
}

// LaneKey builds spec §3's `laneKey = source ":" channel ["::session::" safeSessionId]`.
func LaneKey(source, channelID, sessionID string) string {
	base := source + ":" + channelID
	if sessionID == "" {
		return base
	}
	return base + "::session::" + fsutil.SafeSessionKey(sessionID)
}

// Registry owns all session lanes. Lanes currently executing are pinned
// (never evicted) via the running set.
type Registry struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	lru          *list.List // front = most recently used
	running      map[string]bool
	maxLanes     int
	idleTimeout  time.Duration
	bus          *bus.Bus
}

// Config controls capacity enforcement.
type Config struct {
	MaxLanes    int
	IdleTimeout time.Duration
}

// New creates a Registry. MaxLanes <= 0 means unbounded.
func New(cfg Config, b *bus.Bus) *Registry {
	return &Registry{
		sessions:    map[string]*Session{},
		lru:         list.New(),
		running:     map[string]bool{},
		maxLanes:    cfg.MaxLanes,
		idleTimeout: cfg.IdleTimeout,
		bus:         b,
	}
}

// AcquireFn constructs a Brain handle for a newly created session.
type AcquireFn func(laneKey string) (interface{}, error)

// Acquire returns the session for laneKey, creating it via newBrain if
// absent, and marks it running (pinned against eviction) until Release is
// called. Enforces capacity before creating a new session.
func (r *Registry) Acquire(source, channelID, sessionID string, newBrain AcquireFn) (*Session, error) {
	laneKey := LaneKey(source, channelID, sessionID)
	baseLaneKey := source + ":" + channelID

	r.mu.Lock()
	if s, ok := r.sessions[laneKey]; ok {
		r.markRunningLocked(laneKey)
		s.LastUsedAt = time.Now().UTC()
		r.mu.Unlock()
		return s, nil
	}
	if err := r.enforceCapacityLocked(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	var brain interface{}
	var err error
	if newBrain != nil {
		brain, err = newBrain(laneKey)
		if err != nil {
			return nil, fmt.Errorf("agentsvc: create session %q: %w", laneKey, err)
		}
	}

	now := time.Now().UTC()
	s := &Session{
		LaneKey:     laneKey,
		BaseLaneKey: baseLaneKey,
		Source:      source,
		ChannelID:   channelID,
		SessionID:   sessionID,
		CreatedAt:   now,
		LastUsedAt:  now,
		Brain:       brain,
	}

	r.mu.Lock()
	r.sessions[laneKey] = s
	r.markRunningLocked(laneKey)
	r.mu.Unlock()

	r.emit("session.created", s)
	return s, nil
}

// Release un-pins the session, making it eligible for idle/LRU eviction, and
// bumps its recency in the LRU list.
func (r *Registry) Release(laneKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, laneKey)
	s, ok := r.sessions[laneKey]
	if !ok {
		return
	}
	s.LastUsedAt = time.Now().UTC()
	if s.elem != nil {
		r.lru.MoveToFront(s.elem)
	} else {
		s.elem = r.lru.PushFront(laneKey)
	}
}

func (r *Registry) markRunningLocked(laneKey string) {
	r.running[laneKey] = true
	if s, ok := r.sessions[laneKey]; ok && s.elem != nil {
		r.lru.Remove(s.elem)
		s.elem = nil
	}
}

// enforceCapacityLocked evicts idle-timed-out lanes first, then falls back
// to LRU eviction of non-running lanes until under maxLanes. Caller must
// hold r.mu.
func (r *Registry) enforceCapacityLocked() error {
	if r.maxLanes <= 0 || len(r.sessions) < r.maxLanes {
		return nil
	}

	if r.idleTimeout > 0 {
		now := time.Now().UTC()
		for key, s := range r.sessions {
			if r.running[key] {
				continue
			}
			if now.Sub(s.LastUsedAt) > r.idleTimeout {
				r.evictLocked(key)
			}
		}
	}

	for len(r.sessions) >= r.maxLanes {
		victim := r.lruVictimLocked()
		if victim == "" {
			return fmt.Errorf("agentsvc: at capacity (%d lanes) and all lanes are running", r.maxLanes)
		}
		r.evictLocked(victim)
	}
	return nil
}

func (r *Registry) lruVictimLocked() string {
	for e := r.lru.Back(); e != nil; e = e.Prev() {
		key := e.Value.(string)
		if !r.running[key] {
			return key
		}
	}
	return ""
}

func (r *Registry) evictLocked(laneKey string) {
	s, ok := r.sessions[laneKey]
	if !ok {
		return
	}
	if s.elem != nil {
		r.lru.Remove(s.elem)
	}
	delete(r.sessions, laneKey)
	delete(r.running, laneKey)
	r.emit("session.evicted", s)
}

// Archive manually removes a lane regardless of running state (the
// orchestrator's `archiveConversationSession` operation).
func (r *Registry) Archive(laneKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[laneKey]
	if ok {
		r.evictLocked(laneKey)
	}
	return ok
}

// Get returns a copy-free pointer to the session, or nil.
func (r *Registry) Get(laneKey string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[laneKey]
}

// List returns all sessions, optionally filtered to a base lane key prefix.
func (r *Registry) List(baseLaneKeyPrefix string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if baseLaneKeyPrefix == "" || strings.HasPrefix(s.BaseLaneKey, baseLaneKeyPrefix) {
			out = append(out, s)
		}
	}
	return out
}

// RecordMessage bumps a session's message count.
func (r *Registry) RecordMessage(laneKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[laneKey]; ok {
		s.MessageCount++
		s.LastUsedAt = time.Now().UTC()
	}
}

// Len returns the number of currently tracked lanes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) emit(eventType string, s *Session) {
	if r.bus != nil {
		r.bus.Publish(eventType, map[string]interface{}{"laneKey": s.LaneKey, "source": s.Source})
	}
}
