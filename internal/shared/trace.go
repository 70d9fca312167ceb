package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type laneKey struct{}
type taskKey struct{}
type sessionKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithLaneKey attaches the owning lane key to the context.
func WithLaneKey(ctx context.Context, lane string) context.Context {
	return context.WithValue(ctx, laneKey{}, lane)
}

// LaneKey extracts the lane key from context. Returns "" if absent.
func LaneKey(ctx context.Context) string {
	if v, ok := ctx.Value(laneKey{}).(string); ok {
		return v
	}
	return ""
}

// WithTaskID attaches a task_id to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskKey{}, taskID)
}

// TaskID extracts task_id from context. Returns "" if absent.
func TaskID(ctx context.Context) string {
	if v, ok := ctx.Value(taskKey{}).(string); ok {
		return v
	}
	return ""
}

// WithSessionID attaches a session_id to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionID extracts session_id from context. Returns "" if absent.
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey{}).(string); ok {
		return v
	}
	return ""
}

// NewID generates a new random identifier, used for objectives, browser
// sessions, and any other entity that needs an opaque unique id.
func NewID() string {
	return uuid.NewString()
}
