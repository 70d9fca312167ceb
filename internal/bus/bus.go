// Package bus implements the runtime's append-only observability sink: an
// in-memory ring of recent events, synchronous fan-out to live listeners,
// and a debounced, size-rotated JSONL mirror on disk.
package bus

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nx/nxclaw/internal/fsutil"
)

const defaultSubscriberBuffer = 100

// Event is a single entry on the bus, matching the wire format in spec §6:
// {seq, ts, type, payload}.
type Event struct {
	Seq     uint64      `json:"seq"`
	TS      int64       `json:"ts"` // unix millis
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Subscription is a live, prefix-filtered listener.
type Subscription struct {
	id     uint64
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on. Delivery is non-blocking: a
// slow consumer misses events rather than stalling the publisher.
func (s *Subscription) Ch() <-chan Event { return s.ch }

// Config controls the on-disk mirror.
type Config struct {
	Path          string        // JSONL sink path; empty disables persistence
	BufferSize    int           // in-memory ring capacity
	MaxFileBytes  int64         // rotate to Path+".1" once exceeded
	FlushInterval time.Duration // debounce window for disk writes
	Logger        *slog.Logger
}

// Bus is an in-process pub/sub sink with a bounded ring buffer and an
// async-flushed JSONL mirror.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	ring    []Event
	ringCap int
	nextSeq uint64
	pathCfg Config
	logger  *slog.Logger

	pendingMu  sync.Mutex
	pending    []Event
	flushTimer *time.Timer

	closeOnce sync.Once
}

// New creates a Bus. cfg.BufferSize defaults to 500; cfg.FlushInterval
// defaults to 250ms.
func New(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bus{
		subs:    make(map[uint64]*Subscription),
		ringCap: cfg.BufferSize,
		pathCfg: cfg,
		logger:  cfg.Logger,
	}
}

// Subscribe creates a subscription for events whose Type has the given
// prefix. An empty prefix matches everything.
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, prefix: topicPrefix, ch: make(chan Event, defaultSubscriberBuffer)}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// On registers a plain listener function and returns an unsubscribe closure,
// the shape the runtime orchestrator and dashboard use when they don't need
// a raw channel.
func (b *Bus) On(topicPrefix string, fn func(Event)) func() {
	sub := b.Subscribe(topicPrefix)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-sub.Ch():
				if !ok {
					return
				}
				fn(ev)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		b.Unsubscribe(sub)
	}
}

// Emit assigns a sequence number and timestamp, appends to the ring, fans
// out to matching subscribers synchronously, and queues the event for a
// debounced disk flush.
func (b *Bus) Emit(eventType string, payload interface{}) Event {
	b.mu.Lock()
	b.nextSeq++
	ev := Event{Seq: b.nextSeq, TS: time.Now().UnixMilli(), Type: eventType, Payload: payload}
	b.ring = append(b.ring, ev)
	if len(b.ring) > b.ringCap {
		b.ring = b.ring[len(b.ring)-b.ringCap:]
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.prefix == "" || strings.HasPrefix(ev.Type, s.prefix) {
			select {
			case s.ch <- ev:
			default:
				// buffer full, drop for this subscriber
			}
		}
	}

	if b.pathCfg.Path != "" {
		b.queueFlush(ev)
	}
	return ev
}

// Publish is an alias for Emit kept for call-site readability where the
// returned Event isn't needed.
func (b *Bus) Publish(eventType string, payload interface{}) { b.Emit(eventType, payload) }

func (b *Bus) queueFlush(ev Event) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	b.pending = append(b.pending, ev)
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.pathCfg.FlushInterval, b.flush)
	}
}

func (b *Bus) flush() {
	b.pendingMu.Lock()
	batch := b.pending
	b.pending = nil
	b.flushTimer = nil
	b.pendingMu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := fsutil.RotateIfOversize(b.pathCfg.Path, b.pathCfg.MaxFileBytes); err != nil {
		b.logger.Warn("bus: rotate event log failed", "error", err)
	}
	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := fsutil.AppendLine(b.pathCfg.Path, string(data)); err != nil {
			// EventFlushError: dropped batch, no retry, no user-facing effect;
			// the in-memory ring is unaffected.
			b.logger.Warn("bus: flush event log failed", "error", err)
			return
		}
	}
}

// GetRecent returns up to limit of the most recent events, oldest first.
func (b *Bus) GetRecent(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.ring) {
		limit = len(b.ring)
	}
	out := make([]Event, limit)
	copy(out, b.ring[len(b.ring)-limit:])
	return out
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close flushes any pending batch synchronously.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.pendingMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
		}
		b.pendingMu.Unlock()
		b.flush()
	})
}
