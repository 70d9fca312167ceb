package chromectl

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// OpenSession implements the session opening policy: reuse an unclaimed
// page in cdp+reuse mode, otherwise always create a fresh context and page.
// Capacity is enforced by evicting the least-recently-updated session first.
func (c *Controller) OpenSession(ctx context.Context, url string) (SessionInfo, error) {
	c.mu.Lock()
	if err := c.ensureStartedLocked(ctx); err != nil {
		c.mu.Unlock()
		return SessionInfo{}, err
	}
	c.enforceCapacityLocked()

	var (
		page        *rod.Page
		ownsContext bool
		ownsPage    bool
		err         error
	)
	if c.activeMode == ModeCDP && c.cfg.CDPReuseExistingPage {
		page, ownsPage, err = c.reuseOrCreatePageLocked(url)
	} else {
		page, err = c.createFreshContextPageLocked(url)
		ownsContext = true
		ownsPage = true
	}
	if err != nil {
		c.mu.Unlock()
		return SessionInfo{}, err
	}

	c.mu.Unlock()

	enableCDPDebugSession(page)

	if url != "" && url != "about:blank" {
		navCtx, cancel := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
		if err := page.Context(navCtx).Navigate(url); err == nil {
			_ = page.Context(navCtx).WaitLoad()
		}
		cancel()
	}

	info, _ := page.Info()
	now := time.Now().UTC()
	s := &session{
		ID:          newSessionID(),
		TargetID:    string(page.TargetID),
		CreatedAt:   now,
		UpdatedAt:   now,
		page:        page,
		ownsContext: ownsContext,
		ownsPage:    ownsPage,
	}
	if info != nil {
		s.URL = info.URL
		s.Title = info.Title
	} else {
		s.URL = url
	}
	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()

	c.emit("browser.session.opened", s.info())
	return s.info(), nil
}

// ensureStartedLocked wraps ensureStarted for callers already holding c.mu.
func (c *Controller) ensureStartedLocked(ctx context.Context) error {
	return c.ensureStarted(ctx)
}

// reuseOrCreatePageLocked scans existing browser contexts for a page not
// already claimed by a session, preferring one with a real (non-blank) URL.
func (c *Controller) reuseOrCreatePageLocked(url string) (*rod.Page, bool, error) {
	claimed := map[string]bool{}
	for _, s := range c.sessions {
		claimed[s.TargetID] = true
	}

	pages, err := c.browser.Pages()
	if err != nil {
		return nil, false, fmt.Errorf("chromectl: list pages: %w", err)
	}

	var fallback *rod.Page
	for _, p := range pages {
		if claimed[string(p.TargetID)] {
			continue
		}
		info, infoErr := p.Info()
		if infoErr != nil {
			continue
		}
		if !blankURLs[info.URL] {
			return p, false, nil
		}
		if fallback == nil {
			fallback = p
		}
	}
	if fallback != nil {
		return fallback, false, nil
	}

	page, err := c.createFreshContextPageLocked(url)
	return page, true, err
}

// createFreshContextPageLocked creates a new page in a fresh browser
// context (incognito), applying the configured viewport.
func (c *Controller) createFreshContextPageLocked(url string) (*rod.Page, error) {
	target := url
	if target == "" {
		target = "about:blank"
	}
	incognito, err := c.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("chromectl: incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: target})
	if err != nil {
		return nil, fmt.Errorf("chromectl: create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             c.cfg.ViewportWidth,
		Height:            c.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}).Call(page); err != nil {
		c.emit("browser.viewport.failed", map[string]string{"error": err.Error()})
	}
	return page, nil
}

// CloseSession detaches CDP debugging, closes the context or page this
// session owns, and forgets the session record regardless of outcome.
func (c *Controller) CloseSession(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return false
	}
	c.closeSessionLocked(s)
	return true
}

func (c *Controller) closeSessionLocked(s *session) {
	if s.page != nil {
		if s.ownsContext {
			_ = s.page.Browser().Close()
		} else if s.ownsPage {
			_ = s.page.Close()
		}
	}
	delete(c.sessions, s.ID)
	c.emit("browser.session.closed", s.info())
}

func (c *Controller) getSession(id string) (*session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}
