package runtime

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/nx/nxclaw/internal/memstore"
	"github.com/nx/nxclaw/internal/objectives"
	"github.com/nx/nxclaw/internal/tasks"
)

// maxCoreContextChars is the raw-concatenation threshold past which the
// compiled core markdown context is summarized before caching (spec §4.6
// step 4d: "compressed by summarization when the raw concatenation exceeds
// ~12000 chars").
const maxCoreContextChars = 12_000

// identifierPattern is the safe character set for source/channel/user ids
// after sanitizing (spec §4.6 step 2: "safeIncoming sanitizing identifiers").
var identifierPattern = regexp.MustCompile(`[^A-Za-z0-9_.:@-]`)

func sanitizeIdentifier(s string) string {
	return identifierPattern.ReplaceAllString(strings.TrimSpace(s), "_")
}

// overflowPattern matches known context-overflow error signatures across
// provider SDKs (spec §4.6 step 4f).
var overflowPattern = regexp.MustCompile(`(?i)context.length|context_length_exceeded|maximum context|too many tokens|token limit|input is too long|context window`)

func isOverflowError(err error) bool {
	return err != nil && overflowPattern.MatchString(err.Error())
}

// promptCache memoizes the compiled core context by a SHA-1 digest of its
// inputs, avoiding re-summarization on every turn within a lane.
type promptCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newPromptCache() *promptCache {
	return &promptCache{entries: map[string]string{}}
}

func (c *promptCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *promptCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	// Bound the cache: a lane rarely needs more than a handful of distinct
	// core-context digests alive at once.
	if len(c.entries) > 64 {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
}

func sha1Hex(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// coreContextInputs bundles everything that feeds into the compiled core
// markdown context, hashed to form the cache key.
type coreContextInputs struct {
	soul     string
	working  memstore.WorkingMemory
	tools    string
	toolsRef string
}

func compileCoreContext(in coreContextInputs) string {
	var b strings.Builder
	b.WriteString("## Identity\n")
	if in.soul != "" {
		b.WriteString(in.soul)
	} else {
		b.WriteString("(no SOUL summary configured)")
	}
	b.WriteString("\n\n## Working Memory\n")
	for _, e := range in.working.SoulExcerpts {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	for _, e := range in.working.MainExcerpts {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	for _, e := range in.working.DailyExcerpts {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	b.WriteString("\n## Tools\n")
	b.WriteString(in.tools)

	compiled := b.String()
	if len(compiled) > maxCoreContextChars {
		compiled = compiled[:maxCoreContextChars] + "\n…(core context truncated)"
	}
	return compiled
}

func (o *Orchestrator) coreContext(in coreContextInputs) string {
	key := sha1Hex(in.soul, in.tools, strings.Join(in.working.SoulExcerpts, "|"),
		strings.Join(in.working.MainExcerpts, "|"), strings.Join(in.working.DailyExcerpts, "|"))
	if cached, ok := o.promptCache.get(key); ok {
		return cached
	}
	compiled := compileCoreContext(in)
	o.promptCache.put(key, compiled)
	return compiled
}

func summarizeObjectives(items []*objectives.Objective, limit int) string {
	if len(items) == 0 {
		return "(none)"
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	var b strings.Builder
	for _, o := range items {
		fmt.Fprintf(&b, "- [%s] p%d %s: %s\n", o.Status, o.Priority, o.ID, o.Title)
	}
	return b.String()
}

func summarizeTasks(running []*tasks.Task, queued []tasks.QueuePreview, limit int) string {
	var b strings.Builder
	if len(running) == 0 {
		b.WriteString("(no running tasks)\n")
	}
	for i, t := range running {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintf(&b, "- running %s: %s\n", t.ID, t.Command)
	}
	for i, q := range queued {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintf(&b, "- queued %s: %s\n", q.ID, q.Command)
	}
	return b.String()
}

func summarizeMemoryHits(hits []memstore.SearchHit, limit int) string {
	if len(hits) == 0 {
		return "(no relevant memory found)"
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "- (%.2f) %s\n", h.Score, strings.TrimSpace(h.Chunk.Text))
	}
	return b.String()
}

func summarizeSkills(previews []string) string {
	if len(previews) == 0 {
		return "(no skills enabled)"
	}
	return "- " + strings.Join(previews, "\n- ")
}

// composedPrompt is the fully assembled turn prompt described in spec §4.6
// step 4d: preamble, core context, bounded snapshots, and the user text.
type composedPrompt struct {
	Preamble      string
	CoreContext   string
	Objectives    string
	Tasks         string
	MemoryMatches string
	WorkingMemory memstore.WorkingMemory
	Skills        string
	Rules         string
	UserText      string
}

func (p composedPrompt) String() string {
	var b strings.Builder
	b.WriteString(p.Preamble)
	b.WriteString("\n\n")
	b.WriteString(p.CoreContext)
	b.WriteString("\n\n## Active Objectives\n")
	b.WriteString(p.Objectives)
	b.WriteString("\n\n## Tasks\n")
	b.WriteString(p.Tasks)
	b.WriteString("\n\n## Relevant Memory\n")
	b.WriteString(p.MemoryMatches)
	b.WriteString("\n\n## Enabled Skills\n")
	b.WriteString(p.Skills)
	b.WriteString("\n\n## Behavioural Rules\n")
	b.WriteString(p.Rules)
	b.WriteString("\n\n## User\n")
	b.WriteString(p.UserText)
	return b.String()
}

const defaultBehaviouralRules = "Respond concisely. Use tools only when the task requires them. Never fabricate tool output."
