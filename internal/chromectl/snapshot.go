package chromectl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// snapshotJS clears any prior data-nx-ref markers, queries the fixed union of
// interactive selectors, filters invisible elements unless requested,
// deduplicates near-identical matches, and assigns sequential data-nx-ref
// attributes up to the caller's cap.
const snapshotJS = `
(includeInvisible, maxElements) => {
	document.querySelectorAll('[data-nx-ref]').forEach(el => el.removeAttribute('data-nx-ref'));

	const selector = [
		'a[href]', 'button', 'input', 'select', 'textarea',
		'[role="button"]', '[role="link"]', '[role="menuitem"]',
		'[onclick]', '[contenteditable="true"]',
		'[tabindex]', '[aria-label]',
	].join(',');

	const isVisible = (el) => {
		const rect = el.getBoundingClientRect();
		if (rect.width <= 0 || rect.height <= 0) return false;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') return false;
		if (parseFloat(style.opacity) === 0) return false;
		return true;
	};

	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();

	const candidates = Array.from(document.querySelectorAll(selector));
	const seen = new Set();
	const out = [];

	for (const el of candidates) {
		if (el.tabIndex !== undefined && el.hasAttribute('tabindex') && el.tabIndex < 0) continue;
		if (!includeInvisible && !isVisible(el)) continue;

		const rect = el.getBoundingClientRect();
		const text = norm(el.innerText || el.value || el.textContent).slice(0, 160);
		const key = [
			el.tagName,
			el.id || '',
			el.getAttribute('name') || '',
			Math.round(rect.x / 4),
			Math.round(rect.y / 4),
			text.slice(0, 40),
		].join('|');
		if (seen.has(key)) continue;
		seen.add(key);

		out.push({
			el,
			tag: el.tagName.toLowerCase(),
			id: el.id || '',
			role: el.getAttribute('role') || '',
			name: el.getAttribute('name') || '',
			type: el.getAttribute('type') || '',
			text,
			ariaLabel: el.getAttribute('aria-label') || '',
			placeholder: el.getAttribute('placeholder') || '',
			href: el.getAttribute('href') || '',
			x: rect.x, y: rect.y, width: rect.width, height: rect.height,
		});
		if (out.length >= maxElements) break;
	}

	const elements = out.map((item, i) => {
		const ref = i + 1;
		item.el.setAttribute('data-nx-ref', String(ref));
		const { el, ...rest } = item;
		return { ref, ...rest };
	});

	return { url: location.href, title: document.title, elements };
}
`

type snapshotResult struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Elements []Element `json:"elements"`
}

// Snapshot implements the snapshot operation: injects snapshotJS into the
// session's page and returns a ref-addressable inventory of interactive
// elements (spec §4.3).
func (c *Controller) Snapshot(ctx context.Context, sessionID string, includeInvisible bool, maxElements int) (Snapshot, error) {
	if maxElements <= 0 || maxElements > maxSnapshotElements {
		maxElements = maxSnapshotElements
	}
	s, ok := c.getSession(sessionID)
	if !ok {
		return Snapshot{}, fmt.Errorf("chromectl: unknown session %q", sessionID)
	}

	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           snapshotJS,
		JSArgs:       []interface{}{includeInvisible, maxElements},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return Snapshot{}, fmt.Errorf("chromectl: snapshot failed: %w", err)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return Snapshot{}, fmt.Errorf("chromectl: marshal snapshot result: %w", err)
	}
	var sr snapshotResult
	if err := json.Unmarshal(raw, &sr); err != nil {
		return Snapshot{}, fmt.Errorf("chromectl: decode snapshot result: %w", err)
	}

	c.touch(sessionID)
	return Snapshot{
		URL:       sr.URL,
		Title:     sr.Title,
		Timestamp: time.Now().UTC(),
		Elements:  sr.Elements,
	}, nil
}

func refSelector(ref int) string {
	return fmt.Sprintf(`[data-nx-ref="%d"]`, ref)
}

func refNotFoundErr(ref int) error {
	return fmt.Errorf("Ref %d not found. Run snapshot again.", ref)
}

// ClickByRef clicks the element tagged with data-nx-ref=ref by the most
// recent snapshot.
func (c *Controller) ClickByRef(ctx context.Context, sessionID string, ref int) error {
	s, ok := c.getSession(sessionID)
	if !ok {
		return fmt.Errorf("chromectl: unknown session %q", sessionID)
	}
	el, err := s.page.Context(ctx).Element(refSelector(ref))
	if err != nil {
		return refNotFoundErr(ref)
	}
	defer c.touch(sessionID)
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// TypeByRef types text into the element tagged with data-nx-ref=ref, trying
// a direct value fill first and falling back to focus+keyboard typing.
func (c *Controller) TypeByRef(ctx context.Context, sessionID string, ref int, text string, clear, pressEnter bool) error {
	s, ok := c.getSession(sessionID)
	if !ok {
		return fmt.Errorf("chromectl: unknown session %q", sessionID)
	}
	el, err := s.page.Context(ctx).Element(refSelector(ref))
	if err != nil {
		return refNotFoundErr(ref)
	}
	defer c.touch(sessionID)

	if clear {
		_ = el.SelectAllText()
		_ = el.Input("")
	}

	if err := el.Input(text); err != nil {
		// Fall back to focus + real keystrokes for elements that reject a
		// direct value fill (custom editors, contenteditable regions).
		if focusErr := el.Focus(); focusErr != nil {
			return fmt.Errorf("chromectl: focus element for typing: %w", focusErr)
		}
		keys := make([]input.Key, 0, len(text))
		for _, r := range text {
			if k, ok := input.Keys[r]; ok {
				keys = append(keys, k)
			}
		}
		if err := el.Type(keys...); err != nil {
			return fmt.Errorf("chromectl: keyboard typing fallback: %w", err)
		}
	}

	if pressEnter {
		return el.Type(input.Enter)
	}
	return nil
}

// Screenshot captures the session's current page, preferring the framework
// screenshot path and falling back to a raw CDP capture.
func (c *Controller) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	s, ok := c.getSession(sessionID)
	if !ok {
		return nil, fmt.Errorf("chromectl: unknown session %q", sessionID)
	}
	defer c.touch(sessionID)

	if data, err := s.page.Context(ctx).Screenshot(true, nil); err == nil {
		return data, nil
	}

	shot, err := proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}.Call(s.page)
	if err != nil {
		return nil, fmt.Errorf("chromectl: screenshot failed: %w", err)
	}
	return shot.Data, nil
}
