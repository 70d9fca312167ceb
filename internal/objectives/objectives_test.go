package objectives

import (
	"path/filepath"
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "objectives.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAddUpdateListRoundTrip(t *testing.T) {
	s := newStore(t)
	o, err := s.Add("Ship the thing", "desc", 2, "dashboard")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != StatusPending {
		t.Fatalf("status = %q", o.Status)
	}
	updated, err := s.Update(o.ID, StatusInProgress, "started work")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusInProgress || len(updated.Notes) != 1 {
		t.Fatalf("updated = %+v", updated)
	}
	list := s.List("")
	if len(list) != 1 || list[0].ID != o.ID || list[0].Status != StatusInProgress {
		t.Fatalf("list = %+v", list)
	}
}

func TestAddRejectsEmptyTitle(t *testing.T) {
	s := newStore(t)
	if _, err := s.Add("", "desc", 1, "test"); err == nil {
		t.Fatal("expected error for empty title")
	}
}

func TestPickForAutonomousPrefersInProgressThenPriority(t *testing.T) {
	s := newStore(t)
	low, _ := s.Add("low priority", "", 5, "test")
	high, _ := s.Add("high priority", "", 1, "test")

	picked := s.PickForAutonomous()
	if picked.ID != high.ID {
		t.Fatalf("expected high priority pending pick, got %q", picked.Title)
	}

	if _, err := s.MarkPicked(low.ID); err != nil {
		t.Fatal(err)
	}
	picked = s.PickForAutonomous()
	if picked.ID != low.ID {
		t.Fatalf("expected in_progress pick over pending, got %q", picked.Title)
	}
}

func TestMarkPickedIsNoOpOnTerminal(t *testing.T) {
	s := newStore(t)
	o, _ := s.Add("done thing", "", 1, "test")
	if _, err := s.Update(o.ID, StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	got, err := s.MarkPicked(o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted || got.RunCount != 0 {
		t.Fatalf("terminal objective was mutated: %+v", got)
	}
}

func TestExpireStaleTransitionsAndPreservesTerminal(t *testing.T) {
	s := newStore(t)
	pending, _ := s.Add("stale pending", "", 3, "test")
	inProgress, _ := s.Add("stale in progress", "", 3, "test")
	done, _ := s.Add("finished", "", 3, "test")

	s.byID[pending.ID].CreatedAt = time.Now().Add(-48 * time.Hour)
	if _, err := s.MarkPicked(inProgress.ID); err != nil {
		t.Fatal(err)
	}
	s.byID[inProgress.ID].UpdatedAt = time.Now().Add(-48 * time.Hour)
	if _, err := s.Update(done.ID, StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	s.byID[done.ID].UpdatedAt = time.Now().Add(-48 * time.Hour)

	changed := s.ExpireStale(24*time.Hour, 24*time.Hour)
	if changed != 2 {
		t.Fatalf("changed = %d, want 2", changed)
	}
	if s.GetByID(pending.ID).Status != StatusCancelled {
		t.Fatalf("pending status = %q", s.GetByID(pending.ID).Status)
	}
	if s.GetByID(inProgress.ID).Status != StatusBlocked {
		t.Fatalf("in-progress status = %q", s.GetByID(inProgress.ID).Status)
	}
	if s.GetByID(done.ID).Status != StatusCompleted {
		t.Fatal("terminal objective must never be mutated by expiry")
	}
}

func TestReopenLoadsPersistedObjectives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "objectives.json")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add("persisted", "", 1, "test"); err != nil {
		t.Fatal(err)
	}
	s2, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	list := s2.List("")
	if len(list) != 1 || list[0].Title != "persisted" {
		t.Fatalf("list after reopen = %+v", list)
	}
}
