package chromectl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/shared"
)

// Controller owns at most one browser process, lazily attaching or launching
// on first session open (spec §4.3).
type Controller struct {
	mu  sync.Mutex
	cfg Config
	bus *bus.Bus

	browser    *rod.Browser
	activeMode Mode
	sessions   map[string]*session
}

// New creates a Controller. The browser process is not started until the
// first OpenSession call.
func New(cfg Config, b *bus.Bus) *Controller {
	cfg.applyDefaults()
	return &Controller{cfg: cfg, bus: b, sessions: map[string]*session{}}
}

// ensureStarted connects to or launches the browser if not already running,
// verifying an existing connection is still healthy first.
func (c *Controller) ensureStarted(ctx context.Context) error {
	if c.browser != nil {
		if _, err := c.browser.Version(); err == nil {
			return nil
		}
		_ = c.browser.Close()
		c.browser = nil
		c.sessions = map[string]*session{}
	}

	mode := c.cfg.Mode
	if mode == ModeCDP {
		if err := c.attachCDP(ctx); err != nil {
			if c.cfg.CDPFallbackToLaunch && c.cfg.ExecutablePath != "" {
				mode = ModeLaunch
			} else {
				return fmt.Errorf("chromectl: cdp connect failed and no launch fallback available: %w", err)
			}
		} else {
			c.activeMode = ModeCDP
			return nil
		}
	}
	if err := c.launch(ctx); err != nil {
		return fmt.Errorf("chromectl: launch failed: %w", err)
	}
	c.activeMode = ModeLaunch
	return nil
}

func (c *Controller) attachCDP(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.CDPTimeout)
	defer cancel()

	browser := rod.New().ControlURL(c.cfg.DebuggerURL).Context(dialCtx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to debugger url %q: %w", c.cfg.DebuggerURL, err)
	}
	c.browser = browser
	return nil
}

func (c *Controller) launch(ctx context.Context) error {
	l := launcher.New().Headless(c.cfg.Headless).NoSandbox(true)
	if c.cfg.ExecutablePath != "" {
		l = l.Bin(c.cfg.ExecutablePath)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return err
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to launched chrome: %w", err)
	}
	c.browser = browser
	return nil
}

// List returns metadata for all open sessions.
func (c *Controller) List() []SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionInfo, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// enforceCapacityLocked evicts the least-recently-updated session when the
// pool is already at MaxSessions. Caller must hold c.mu.
func (c *Controller) enforceCapacityLocked() {
	if len(c.sessions) < c.cfg.MaxSessions {
		return
	}
	var victim *session
	for _, s := range c.sessions {
		if victim == nil || s.UpdatedAt.Before(victim.UpdatedAt) {
			victim = s
		}
	}
	if victim != nil {
		c.closeSessionLocked(victim)
	}
}

// Shutdown closes every session and the underlying browser process.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		c.closeSessionLocked(s)
	}
	if c.browser == nil {
		return nil
	}
	err := c.browser.Close()
	c.browser = nil
	return err
}

func (c *Controller) touch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[id]; ok {
		s.UpdatedAt = time.Now().UTC()
	}
}

func (c *Controller) emit(eventType string, payload interface{}) {
	if c.bus != nil {
		c.bus.Publish(eventType, payload)
	}
}

func newSessionID() string { return shared.NewID() }

// enableCDPDebugSession is best-effort: CDP-derived features degrade
// gracefully when it fails, per spec §4.3.
func enableCDPDebugSession(page *rod.Page) {
	_ = proto.PageEnable{}.Call(page)
	_ = proto.RuntimeEnable{}.Call(page)
}
