// Package objectives implements the durable priority queue the autonomous
// loop and dashboard use to track longer-running goals (spec §4.5).
package objectives

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/fsutil"
	"github.com/nx/nxclaw/internal/shared"
)

// Status is the objective lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Note is a timestamped audit entry attached to an objective.
type Note struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Objective is the durable record described in spec §3.
type Objective struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    int       `json:"priority"` // 1 (highest) .. 5 (lowest)
	Status      Status    `json:"status"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	RunCount    int       `json:"runCount"`
	LastRunAt   time.Time `json:"lastRunAt,omitempty"`
	Notes       []Note    `json:"notes"`
}

type fileFormat struct {
	Objectives []*Objective `json:"objectives"`
}

// Store is the single-writer, atomically-persisted objective queue.
type Store struct {
	mu   sync.Mutex
	path string
	bus  *bus.Bus
	byID map[string]*Objective
}

// Open loads path (creating an empty store if it does not exist yet).
func Open(path string, b *bus.Bus) (*Store, error) {
	s := &Store{path: path, bus: b, byID: map[string]*Objective{}}
	var ff fileFormat
	if err := fsutil.ReadJSON(path, &ff); err != nil {
		// Missing or corrupt: start from an empty queue (best-effort recovery).
		return s, nil
	}
	for _, o := range ff.Objectives {
		s.byID[o.ID] = o
	}
	return s, nil
}

func (s *Store) persistLocked() error {
	list := make([]*Objective, 0, len(s.byID))
	for _, o := range s.byID {
		list = append(list, o)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return fsutil.WriteJSONAtomic(s.path, fileFormat{Objectives: list})
}

func (s *Store) emit(eventType string, o *Objective) {
	if s.bus != nil {
		s.bus.Publish(eventType, o)
	}
}

// Add creates a new pending objective.
func (s *Store) Add(title, description string, priority int, source string) (*Objective, error) {
	if title == "" {
		return nil, fmt.Errorf("objectives: title must be non-empty")
	}
	if priority < 1 || priority > 5 {
		priority = 3
	}
	now := time.Now().UTC()
	o := &Objective{
		ID:          shared.NewID(),
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      StatusPending,
		Source:      source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.ID] = o
	if err := s.persistLocked(); err != nil {
		delete(s.byID, o.ID)
		return nil, err
	}
	s.emit("objective.added", o)
	return o, nil
}

// List returns objectives, optionally filtered by status, newest-created
// first is not guaranteed; callers sort as needed.
func (s *Store) List(status Status) []*Objective {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Objective, 0, len(s.byID))
	for _, o := range s.byID {
		if status == "" || o.Status == status {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetByID returns a copy of the objective, or nil if not found.
func (s *Store) GetByID(id string) *Objective {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

// Update applies a status transition and/or appends a note. Terminal
// statuses, once set, are only changeable through this API (never
// overwritten silently by staleness expiry or picking).
func (s *Store) Update(id string, status Status, note string) (*Objective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("objectives: %q not found", id)
	}
	if status != "" {
		o.Status = status
	}
	if note != "" {
		o.Notes = append(o.Notes, Note{At: time.Now().UTC(), Text: note})
	}
	o.UpdatedAt = time.Now().UTC()
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	s.emit("objective.updated", o)
	cp := *o
	return &cp, nil
}

// PickForAutonomous selects the objective the autonomous loop should work on
// next: the oldest-updated in_progress objective if any exists, otherwise
// the oldest-created pending objective among the highest priority (lowest
// numeric value) bucket.
func (s *Store) PickForAutonomous() *Objective {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bestInProgress *Objective
	for _, o := range s.byID {
		if o.Status != StatusInProgress {
			continue
		}
		if bestInProgress == nil || o.UpdatedAt.Before(bestInProgress.UpdatedAt) {
			bestInProgress = o
		}
	}
	if bestInProgress != nil {
		cp := *bestInProgress
		return &cp
	}

	var best *Objective
	for _, o := range s.byID {
		if o.Status != StatusPending {
			continue
		}
		if best == nil ||
			o.Priority < best.Priority ||
			(o.Priority == best.Priority && o.CreatedAt.Before(best.CreatedAt)) {
			best = o
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// MarkPicked transitions a pending objective to in_progress and bumps its
// run count. A no-op (other than returning the current record) if the
// objective already reached a terminal status.
func (s *Store) MarkPicked(id string) (*Objective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("objectives: %q not found", id)
	}
	if o.Status.terminal() {
		cp := *o
		return &cp, nil
	}
	o.Status = StatusInProgress
	o.RunCount++
	now := time.Now().UTC()
	o.LastRunAt = now
	o.UpdatedAt = now
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	s.emit("objective.picked", o)
	cp := *o
	return &cp, nil
}

// ExpireStale cancels pending objectives older than pendingMaxAge and blocks
// in_progress objectives idle beyond inProgressMaxIdle. Terminal statuses are
// immutable and never touched here. Returns the number of objectives
// changed.
func (s *Store) ExpireStale(pendingMaxAge, inProgressMaxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	changed := 0
	for _, o := range s.byID {
		switch o.Status {
		case StatusPending:
			if pendingMaxAge > 0 && now.Sub(o.CreatedAt) > pendingMaxAge {
				o.Status = StatusCancelled
				o.Notes = append(o.Notes, Note{At: now, Text: "auto-cancelled: pending past staleness threshold"})
				o.UpdatedAt = now
				changed++
				s.emit("objective.expired", o)
			}
		case StatusInProgress:
			if inProgressMaxIdle > 0 && now.Sub(o.UpdatedAt) > inProgressMaxIdle {
				o.Status = StatusBlocked
				o.Notes = append(o.Notes, Note{At: now, Text: "auto-blocked: in_progress idle past staleness threshold"})
				o.UpdatedAt = now
				changed++
				s.emit("objective.expired", o)
			}
		}
	}
	if changed > 0 {
		_ = s.persistLocked()
	}
	return changed
}

// Stats summarizes the queue by status.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"byStatus"`
	HighestDue *Objective     `json:"highestDue,omitempty"`
}

// Stats returns aggregate counts, useful for the dashboard and autonomous
// loop pressure gating.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{ByStatus: map[Status]int{}}
	for _, o := range s.byID {
		st.Total++
		st.ByStatus[o.Status]++
	}
	return st
}
