package chromectl

import (
	"testing"
	"time"
)

func TestConfigApplyDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()

	if c.Mode != ModeLaunch {
		t.Errorf("default Mode = %q, want %q", c.Mode, ModeLaunch)
	}
	if c.CDPTimeout != 5*time.Second {
		t.Errorf("default CDPTimeout = %v, want 5s", c.CDPTimeout)
	}
	if c.MaxSessions != 6 {
		t.Errorf("default MaxSessions = %d, want 6", c.MaxSessions)
	}
	if c.ViewportWidth != 1280 || c.ViewportHeight != 800 {
		t.Errorf("default viewport = %dx%d, want 1280x800", c.ViewportWidth, c.ViewportHeight)
	}
	if c.NavigationTimeout != 30*time.Second {
		t.Errorf("default NavigationTimeout = %v, want 30s", c.NavigationTimeout)
	}
}

func TestConfigApplyDefaultsPreservesExplicitValues(t *testing.T) {
	c := Config{
		Mode:              ModeCDP,
		CDPTimeout:        2 * time.Second,
		MaxSessions:       2,
		ViewportWidth:     640,
		ViewportHeight:    480,
		NavigationTimeout: 10 * time.Second,
	}
	c.applyDefaults()

	if c.Mode != ModeCDP {
		t.Errorf("Mode overwritten: got %q", c.Mode)
	}
	if c.MaxSessions != 2 {
		t.Errorf("MaxSessions overwritten: got %d", c.MaxSessions)
	}
	if c.ViewportWidth != 640 || c.ViewportHeight != 480 {
		t.Errorf("viewport overwritten: got %dx%d", c.ViewportWidth, c.ViewportHeight)
	}
}

func TestBlankURLsClassification(t *testing.T) {
	blank := []string{"", "about:blank", "chrome://newtab/", "chrome://new-tab-page/"}
	for _, u := range blank {
		if !blankURLs[u] {
			t.Errorf("expected %q to be classified blank", u)
		}
	}
	notBlank := []string{"https://example.com", "chrome://settings/"}
	for _, u := range notBlank {
		if blankURLs[u] {
			t.Errorf("expected %q to not be classified blank", u)
		}
	}
}

func TestEnforceCapacityEvictsLeastRecentlyUpdated(t *testing.T) {
	c := New(Config{MaxSessions: 2}, nil)
	base := time.Now().UTC()

	old := &session{ID: "old", CreatedAt: base, UpdatedAt: base}
	newer := &session{ID: "newer", CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second)}
	c.sessions["old"] = old
	c.sessions["newer"] = newer

	c.mu.Lock()
	c.enforceCapacityLocked()
	c.mu.Unlock()

	if _, ok := c.sessions["old"]; ok {
		t.Error("expected least-recently-updated session to be evicted")
	}
	if _, ok := c.sessions["newer"]; !ok {
		t.Error("expected newer session to survive eviction")
	}
}

func TestEnforceCapacityNoOpUnderLimit(t *testing.T) {
	c := New(Config{MaxSessions: 5}, nil)
	c.sessions["a"] = &session{ID: "a", UpdatedAt: time.Now().UTC()}

	c.mu.Lock()
	c.enforceCapacityLocked()
	c.mu.Unlock()

	if len(c.sessions) != 1 {
		t.Errorf("expected no eviction under capacity, got %d sessions", len(c.sessions))
	}
}

func TestRefNotFoundErrFormatting(t *testing.T) {
	err := refNotFoundErr(7)
	want := "Ref 7 not found. Run snapshot again."
	if err.Error() != want {
		t.Errorf("refNotFoundErr(7) = %q, want %q", err.Error(), want)
	}
}

func TestRefSelector(t *testing.T) {
	if got, want := refSelector(3), `[data-nx-ref="3"]`; got != want {
		t.Errorf("refSelector(3) = %q, want %q", got, want)
	}
}

func TestGetSessionUnknownReturnsFalse(t *testing.T) {
	c := New(Config{}, nil)
	if _, ok := c.getSession("missing"); ok {
		t.Error("expected getSession to report missing session as not found")
	}
}

func TestListSortsByCreatedAt(t *testing.T) {
	c := New(Config{}, nil)
	base := time.Now().UTC()
	c.sessions["b"] = &session{ID: "b", CreatedAt: base.Add(2 * time.Second)}
	c.sessions["a"] = &session{ID: "a", CreatedAt: base}

	out := c.List()
	if len(out) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(out))
	}
	if out[0].ID != "a" || out[1].ID != "b" {
		t.Errorf("expected sessions sorted by CreatedAt asc, got %v then %v", out[0].ID, out[1].ID)
	}
}
