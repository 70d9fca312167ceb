// Package dashboard implements the HTTP surface spec §6 describes: a small
// JSON API plus an HTML console and an SSE event stream, grounded on the
// teacher's internal/gateway package (token auth, CORS/size-limit
// middleware, SSE) adapted from its WebSocket JSON-RPC transport to spec's
// plain REST+SSE surface.
package dashboard

import (
	"log/slog"
	"time"

	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/chromectl"
	"github.com/nx/nxclaw/internal/config"
	"github.com/nx/nxclaw/internal/memstore"
	"github.com/nx/nxclaw/internal/objectives"
	"github.com/nx/nxclaw/internal/policy"
	"github.com/nx/nxclaw/internal/runtime"
	"github.com/nx/nxclaw/internal/tasks"
)

// AutonomousStatus is the subset of autoloop.Status the dashboard reports;
// declared here instead of importing internal/autoloop to avoid a
// dashboard->autoloop->runtime->dashboard import cycle risk as the tree
// grows (autoloop already imports runtime).
type AutonomousStatus struct {
	Enabled             bool      `json:"enabled"`
	DisabledReason      string    `json:"disabledReason,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastTickAt          time.Time `json:"lastTickAt,omitempty"`
	LastSkipReason      string    `json:"lastSkipReason,omitempty"`
}

// Config wires the dashboard server to every subsystem its API surface
// reports on or mutates.
type Config struct {
	BindAddr     string
	AuthToken    string
	AllowOrigins []string // origin patterns permitted on the websocket event stream
	Orchestrator *runtime.Orchestrator
	Memory       *memstore.Store
	Objectives   *objectives.Store
	Tasks        *tasks.Manager
	Chrome       *chromectl.Controller
	Policy       policy.Checker
	Bus          *bus.Bus
	Logger       *slog.Logger

	// LoadConfig/SaveConfig back GET/POST /api/settings; kept as functions
	// rather than a direct *config.Config so the dashboard never overwrites
	// a version of config newer than the one it read.
	LoadConfig func() (config.Config, error)
	SaveConfig func(config.Config) error

	// AutonomousStatus reports the autoloop's current state; nil disables
	// the autonomous section of /api/state.
	AutonomousStatus func() AutonomousStatus
}
