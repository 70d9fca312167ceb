// Package laneq implements the keyed serial FIFO scheduler the runtime
// orchestrator uses to serialize turns within a conversation while allowing
// distinct lanes to run concurrently (spec §5).
package laneq

import (
	"context"
	"fmt"
	"sync"

	"github.com/nx/nxclaw/internal/bus"
)

// Fn is unit of work submitted to a lane. It receives the lane key so
// callers can log/trace without a closure capture.
type Fn func(ctx context.Context) (string, error)

type lane struct {
	mu      sync.Mutex // serializes execution of this lane's queue
	pending int        // items currently queued or running on this lane
	running bool
}

// Queue is a keyed serial scheduler: work submitted under the same key runs
// strictly FIFO; work under distinct keys runs concurrently. A global depth
// cap bounds the total number of queued+running items across all lanes.
type Queue struct {
	mu       sync.Mutex
	lanes    map[string]*lane
	depth    int
	maxDepth int
	bus      *bus.Bus
}

// New creates a Queue. maxDepth <= 0 means unbounded.
func New(maxDepth int, b *bus.Bus) *Queue {
	return &Queue{lanes: map[string]*lane{}, maxDepth: maxDepth, bus: b}
}

// ErrQueueFull is returned by Enqueue when the global depth cap is reached.
type ErrQueueFull struct{ Depth, Max int }

func (e ErrQueueFull) Error() string {
	return fmt.Sprintf("laneq: global queue depth %d >= max %d", e.Depth, e.Max)
}

// Depth returns the current global queue depth (queued + running items).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// LaneRunning reports whether laneKey currently has an item executing.
func (q *Queue) LaneRunning(laneKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[laneKey]
	if !ok {
		return false
	}
	return l.running
}

// Enqueue admits fn to laneKey's FIFO chain. It blocks the calling goroutine
// until fn has run (the caller is the one waiting on the reply), matching
// the orchestrator's synchronous handleIncoming contract. Returns
// ErrQueueFull immediately, without touching the lane, when the global
// depth cap is already reached.
func (q *Queue) Enqueue(ctx context.Context, laneKey string, fn Fn) (string, error) {
	q.mu.Lock()
	if q.maxDepth > 0 && q.depth >= q.maxDepth {
		q.mu.Unlock()
		return "", ErrQueueFull{Depth: q.depth, Max: q.maxDepth}
	}
	l, ok := q.lanes[laneKey]
	if !ok {
		l = &lane{}
		q.lanes[laneKey] = l
	}
	l.pending++
	q.depth++
	laneDepth, laneActive, totalDepth := l.pending, l.running, q.depth
	q.mu.Unlock()

	q.emit("lane.enqueue", laneKey, laneDepth, laneActive, totalDepth)

	l.mu.Lock()
	defer l.mu.Unlock()

	q.mu.Lock()
	l.running = true
	laneDepth, laneActive, totalDepth = l.pending, l.running, q.depth
	q.mu.Unlock()
	q.emit("lane.start", laneKey, laneDepth, laneActive, totalDepth)

	result, err := fn(ctx)

	q.mu.Lock()
	l.running = false
	l.pending--
	q.depth--
	laneDepth, laneActive, totalDepth = l.pending, l.running, q.depth
	if l.pending == 0 {
		delete(q.lanes, laneKey)
	}
	q.mu.Unlock()
	q.emit("lane.end", laneKey, laneDepth, laneActive, totalDepth)

	return result, err
}

// laneEvent is the payload published for every lane state transition, giving
// dashboard/event consumers enough to reconstruct queue state (spec §4.1)
// from the event stream alone: the lane's own depth and active flag plus the
// queue-wide total depth.
type laneEvent struct {
	LaneKey    string `json:"laneKey"`
	LaneDepth  int    `json:"laneDepth"`
	LaneActive bool   `json:"laneActive"`
	TotalDepth int    `json:"totalDepth"`
}

func (q *Queue) emit(eventType, laneKey string, laneDepth int, laneActive bool, totalDepth int) {
	if q.bus != nil {
		q.bus.Publish(eventType, laneEvent{
			LaneKey:    laneKey,
			LaneDepth:  laneDepth,
			LaneActive: laneActive,
			TotalDepth: totalDepth,
		})
	}
}
