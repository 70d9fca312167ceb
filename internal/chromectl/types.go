// Package chromectl owns the single shared browser process a tool session
// attaches to or launches on first use, plus the snapshot-ref protocol tools
// use to click and type without brittle CSS selectors (spec §4.3).
package chromectl

import (
	"time"

	"github.com/go-rod/rod"
)

// Mode selects how the controller obtains a browser process.
type Mode string

const (
	ModeCDP    Mode = "cdp"
	ModeLaunch Mode = "launch"
)

// Config controls attach/launch behavior and per-session defaults.
type Config struct {
	Mode                 Mode
	DebuggerURL          string
	ExecutablePath       string
	CDPTimeout           time.Duration
	CDPFallbackToLaunch  bool
	CDPReuseExistingPage bool
	Headless             bool
	MaxSessions          int
	ViewportWidth        int
	ViewportHeight       int
	NavigationTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeLaunch
	}
	if c.CDPTimeout <= 0 {
		c.CDPTimeout = 5 * time.Second
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 6
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 800
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
}

// blankURLs are treated as "no real page here yet" when scanning for a
// reusable page in cdp+reuse mode.
var blankURLs = map[string]bool{
	"":                        true,
	"about:blank":             true,
	"chrome://newtab/":        true,
	"chrome://new-tab-page/":  true,
}

// session is the controller's internal record for an open page.
type session struct {
	ID        string
	TargetID  string
	URL       string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time

	page *rod.Page

	ownsContext  bool // this session created its own browser context
	ownsPage     bool // this session created the page (vs reusing one)
	debugSession *rod.Page // CDP debug session handle, best-effort
	refCount     int
}

// SessionInfo is the public, page-handle-free view of a session.
type SessionInfo struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *session) info() SessionInfo {
	return SessionInfo{ID: s.ID, URL: s.URL, Title: s.Title, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}

// Element is a single snapshotted, ref-addressable page element.
type Element struct {
	Ref         int     `json:"ref"`
	Tag         string  `json:"tag"`
	ID          string  `json:"id,omitempty"`
	Role        string  `json:"role,omitempty"`
	Name        string  `json:"name,omitempty"`
	Type        string  `json:"type,omitempty"`
	Text        string  `json:"text,omitempty"`
	AriaLabel   string  `json:"ariaLabel,omitempty"`
	Placeholder string  `json:"placeholder,omitempty"`
	Href        string  `json:"href,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

// Snapshot is the result of the snapshot operation.
type Snapshot struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Elements  []Element `json:"elements"`
}

const maxSnapshotElements = 500
