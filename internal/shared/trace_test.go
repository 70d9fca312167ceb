package shared

import (
	"context"
	"testing"
)

func TestTraceIDRoundTrip(t *testing.T) {
	if got := TraceID(context.Background()); got != "-" {
		t.Fatalf("empty context TraceID = %q, want -", got)
	}
	ctx := WithTraceID(context.Background(), "abc123")
	if got := TraceID(ctx); got != "abc123" {
		t.Fatalf("TraceID = %q, want abc123", got)
	}
}

func TestLaneSessionTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithLaneKey(ctx, "chat:room1")
	ctx = WithTaskID(ctx, "task-1")
	ctx = WithSessionID(ctx, "sess-1")

	if got := LaneKey(ctx); got != "chat:room1" {
		t.Fatalf("LaneKey = %q", got)
	}
	if got := TaskID(ctx); got != "task-1" {
		t.Fatalf("TaskID = %q", got)
	}
	if got := SessionID(ctx); got != "sess-1" {
		t.Fatalf("SessionID = %q", got)
	}
}

func TestNewIDUnique(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Fatalf("NewID produced duplicate ids")
	}
}
