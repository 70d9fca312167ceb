package memstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/fsutil"
	"github.com/nx/nxclaw/internal/shared"
)

// Store is the multi-layer knowledge store: raw JSONL log, daily/session
// markdown tiers, a long-term markdown file, a SOUL identity document, and
// the chunked search index built over all of them.
type Store struct {
	cfg    Config
	bus    *bus.Bus
	logger *slog.Logger

	rootDir     string
	rawPath     string
	notesPath   string
	dailyDir    string
	sessionDir  string
	mainPath    string
	soulPath    string
	soulJournal string

	mu             sync.RWMutex
	rawEntries     []RawEntry
	dirty          bool
	lastIndexError string

	embedder Embedder
	index    *index

	healthPingPatterns []*regexp.Regexp

	watcher *reindexWatcher
}

// Open loads (or initializes) the store rooted at cfg.RootDir.
func Open(cfg Config, b *bus.Bus, logger *slog.Logger) (*Store, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	root := cfg.RootDir
	s := &Store{
		cfg:         cfg,
		bus:         b,
		logger:      logger,
		rootDir:     root,
		rawPath:     filepath.Join(root, "raw.jsonl"),
		notesPath:   filepath.Join(root, "notes.jsonl"),
		dailyDir:    filepath.Join(root, "daily"),
		sessionDir:  filepath.Join(root, "sessions"),
		mainPath:    filepath.Join(root, "long_term.md"),
		soulPath:    filepath.Join(root, "soul.md"),
		soulJournal: filepath.Join(root, "soul_journal.md"),
	}
	for _, dir := range []string{s.rootDir, s.dailyDir, s.sessionDir} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("memstore: %w", err)
		}
	}

	for _, pat := range cfg.HealthPingPatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, fmt.Errorf("memstore: compile health ping pattern %q: %w", pat, err)
		}
		s.healthPingPatterns = append(s.healthPingPatterns, re)
	}

	if err := fsutil.ReadJSONLines(s.rawPath, func(e RawEntry) error {
		s.rawEntries = append(s.rawEntries, e)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("memstore: load raw log: %w", err)
	}

	s.embedder = selectEmbedder(cfg, nil)
	ix, err := openIndex(root, s.embedder)
	if err != nil {
		return nil, err
	}
	s.index = ix

	return s, nil
}

// StartWatch installs an fsnotify watcher over the memory root that
// schedules a debounced reindex on any .md change (spec §4.4 filesystem
// watch). Returns a stop function.
func (s *Store) StartWatch(ctx context.Context) (func(), error) {
	w, err := newReindexWatcher(s, s.cfg.ReindexDebounce)
	if err != nil {
		return func() {}, err
	}
	s.watcher = w
	w.start(ctx)
	return w.stop, nil
}

func (s *Store) emit(eventType string, payload interface{}) {
	if s.bus != nil {
		s.bus.Publish(eventType, payload)
	}
}

func (s *Store) isHealthPing(text string) bool {
	for _, re := range s.healthPingPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// RememberTurn appends a conversation turn to the raw log and the daily
// (and, if enabled, session) markdown tiers. Health-ping and near-duplicate
// entries within the duplicate window are skipped silently.
func (s *Store) RememberTurn(actor, source, sessionKey, text string) (RawEntry, bool, error) {
	if s.isHealthPing(text) {
		return RawEntry{}, false, nil
	}

	now := time.Now().UTC()
	s.mu.Lock()
	if s.isDuplicateLocked(actor, source, text, now) {
		s.mu.Unlock()
		return RawEntry{}, false, nil
	}
	entry := RawEntry{
		ID:         shared.NewID(),
		TS:         now,
		Actor:      actor,
		Source:     source,
		SessionKey: sessionKey,
		Text:       text,
	}
	s.rawEntries = append(s.rawEntries, entry)
	s.dirty = true
	s.mu.Unlock()

	if err := fsutil.AppendJSONLine(s.rawPath, entry); err != nil {
		return entry, true, fmt.Errorf("memstore: append raw log: %w", err)
	}

	heading := fsutil.TimestampHeading(2, fmt.Sprintf("%s (%s)", capitalize(actor), source), now)
	dailyPath := filepath.Join(s.dailyDir, fsutil.DailyFileName(now))
	if err := fsutil.AppendLine(dailyPath, heading+text+"\n"); err != nil {
		return entry, true, fmt.Errorf("memstore: append daily log: %w", err)
	}
	s.scheduleReindex(dailyPath, "daily")

	if s.cfg.SessionMarkdownEnabled && sessionKey != "" {
		sessionPath := s.sessionMarkdownPath(sessionKey)
		if err := fsutil.AppendLine(sessionPath, heading+text+"\n"); err != nil {
			return entry, true, fmt.Errorf("memstore: append session log: %w", err)
		}
		s.scheduleReindex(sessionPath, "session")
	}

	return entry, true, nil
}

func (s *Store) sessionMarkdownPath(sessionKey string) string {
	return filepath.Join(s.sessionDir, fsutil.SafeSessionKey(sessionKey)+".md")
}

// isDuplicateLocked reports whether text matches a same-actor same-source
// entry within the duplicate window. Caller must hold s.mu.
func (s *Store) isDuplicateLocked(actor, source, text string, now time.Time) bool {
	for i := len(s.rawEntries) - 1; i >= 0; i-- {
		e := s.rawEntries[i]
		if now.Sub(e.TS) > s.cfg.DuplicateWindow {
			break
		}
		if e.Actor == actor && e.Source == source && e.Text == text {
			return true
		}
	}
	return false
}

// AddNote appends a long-term note: a JSON line plus a timestamped block in
// the main long-term markdown file.
func (s *Store) AddNote(title, text string) (Note, error) {
	now := time.Now().UTC()
	n := Note{ID: shared.NewID(), TS: now, Title: title, Text: text}
	if err := fsutil.AppendJSONLine(s.notesPath, n); err != nil {
		return n, fmt.Errorf("memstore: append note: %w", err)
	}
	heading := fsutil.TimestampHeading(2, title, now)
	if err := fsutil.AppendLine(s.mainPath, heading+text+"\n"); err != nil {
		return n, fmt.Errorf("memstore: append long-term markdown: %w", err)
	}
	s.scheduleReindex(s.mainPath, "main")
	s.emit("memory.note.added", n)
	return n, nil
}

// WriteSoulMode selects how WriteSoul mutates the identity document.
type WriteSoulMode int

const (
	SoulReplace WriteSoulMode = iota
	SoulAppend
)

// WriteSoul mutates the SOUL identity document: either full replacement or
// an append beneath a new timestamped "Update" heading. Optionally mirrors
// the change into the soul journal.
func (s *Store) WriteSoul(mode WriteSoulMode, text string, mirrorJournal bool) error {
	now := time.Now().UTC()
	switch mode {
	case SoulReplace:
		if err := fsutil.WriteFileAtomic(s.soulPath, []byte(text)); err != nil {
			return fmt.Errorf("memstore: write soul: %w", err)
		}
	case SoulAppend:
		heading := fsutil.TimestampHeading(2, "Update", now)
		if err := fsutil.AppendLine(s.soulPath, heading+text+"\n"); err != nil {
			return fmt.Errorf("memstore: append soul: %w", err)
		}
	}
	if mirrorJournal {
		heading := fsutil.TimestampHeading(3, "Journal", now)
		if err := fsutil.AppendLine(s.soulJournal, heading+text+"\n"); err != nil {
			return fmt.Errorf("memstore: append soul journal: %w", err)
		}
	}
	s.scheduleReindex(s.soulPath, "main")
	s.emit("memory.soul.updated", map[string]string{"mode": fmt.Sprint(mode)})
	return nil
}

// ReadSoul returns the current SOUL identity document for `GET
// /api/memory/soul` (spec §6). A missing file reads as empty, not an error.
func (s *Store) ReadSoul() (string, error) {
	data, err := os.ReadFile(s.soulPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("memstore: read soul: %w", err)
	}
	return string(data), nil
}

var importanceKeywordsRegex = func(keywords []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(` + strings.Join(keywords, "|") + `)\b`)
}

// MatchesImportance reports whether text contains an importance keyword,
// the trigger for a soul journal mirror on assistant replies.
func (s *Store) MatchesImportance(text string) bool {
	return importanceKeywordsRegex(s.cfg.ImportanceKeywords).MatchString(text)
}

// scheduleReindex re-chunks and re-embeds a single markdown file
// synchronously. Called after every write path; also invoked by the
// fsnotify watcher on external changes.
func (s *Store) scheduleReindex(path, sourceType string) {
	if err := s.reindexFile(context.Background(), path, sourceType); err != nil {
		s.logger.Warn("memstore: reindex failed", "path", path, "error", err)
		s.mu.Lock()
		s.lastIndexError = err.Error()
		s.mu.Unlock()
	}
}

func (s *Store) reindexFile(ctx context.Context, path, sourceType string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("memstore: read %s: %w", path, err)
	}
	var raw []Chunk
	switch sourceType {
	case "daily", "session":
		raw = splitSections(string(data), s.cfg.SectionMaxChars, s.cfg.ChunkOverlap)
	case "main":
		raw = slidingWindow(string(data), s.cfg.MainChunkChars, s.cfg.ChunkOverlap)
	default:
		raw = slidingWindow(string(data), s.cfg.ExtraChunkChars, s.cfg.ChunkOverlap)
	}
	fresh := finalizeChunks(raw, path, sourceType)
	if err := s.index.reindexPath(ctx, path, sourceType, fresh); err != nil {
		return err
	}
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// RebuildIndex re-chunks every tracked file from scratch and re-embeds only
// chunks whose content hash isn't already in the embedding cache — content
// unchanged since the last index build costs no new embedding calls.
func (s *Store) RebuildIndex(ctx context.Context) error {
	byPath := map[string][]Chunk{}
	err := filepath.WalkDir(s.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		sourceType := classifySourceType(s, path)
		var raw []Chunk
		if sourceType == "main" {
			raw = slidingWindow(string(data), s.cfg.MainChunkChars, s.cfg.ChunkOverlap)
		} else if sourceType == "daily" || sourceType == "session" {
			raw = splitSections(string(data), s.cfg.SectionMaxChars, s.cfg.ChunkOverlap)
		} else {
			raw = slidingWindow(string(data), s.cfg.ExtraChunkChars, s.cfg.ChunkOverlap)
		}
		byPath[path] = finalizeChunks(raw, path, sourceType)
		return nil
	})
	if err != nil {
		return fmt.Errorf("memstore: walk root: %w", err)
	}
	return s.index.rebuild(ctx, byPath)
}

func classifySourceType(s *Store, path string) string {
	switch {
	case strings.HasPrefix(path, s.dailyDir):
		return "daily"
	case strings.HasPrefix(path, s.sessionDir):
		return "session"
	case path == s.mainPath || path == s.soulPath:
		return "main"
	default:
		return "extra"
	}
}

// WorkingMemoryContext assembles the bounded working-memory block described
// in spec §4.4: up to 4 main excerpts, 3 SOUL summaries, and 6 daily
// excerpts from today and yesterday.
func (s *Store) WorkingMemoryContext() WorkingMemory {
	wm := WorkingMemory{}
	for _, c := range s.index.all() {
		if c.SourceType != "main" {
			continue
		}
		if strings.Contains(c.Path, "soul") {
			if len(wm.SoulExcerpts) < 3 {
				wm.SoulExcerpts = append(wm.SoulExcerpts, c.Text)
			}
			continue
		}
		if len(wm.MainExcerpts) < 4 {
			wm.MainExcerpts = append(wm.MainExcerpts, c.Text)
		}
	}
	today := fsutil.DailyFileName(time.Now().UTC())
	yesterday := fsutil.DailyFileName(time.Now().UTC().AddDate(0, 0, -1))
	for _, c := range s.index.all() {
		if c.SourceType != "daily" {
			continue
		}
		base := filepath.Base(c.Path)
		if base != today && base != yesterday {
			continue
		}
		if len(wm.DailyExcerpts) >= 6 {
			break
		}
		wm.DailyExcerpts = append(wm.DailyExcerpts, c.Text)
	}
	return wm
}

// RawCount returns the number of live (uncompacted) raw entries.
func (s *Store) RawCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rawEntries)
}

// RecentRaw returns up to limit of the most recent raw entries, oldest
// first, for the dashboard's `GET /api/memory/recent` (spec §6).
func (s *Store) RecentRaw(limit int) []RawEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := sortedRawEntries(s.rawEntries)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// Stats summarizes store health for `GET /api/memory/stats` (spec §6 and
// §7's MemoryIndexError kind: "recorded in store's lastIndexError; search
// still works over whatever was indexed").
type Stats struct {
	RawCount       int    `json:"rawCount"`
	IndexedChunks  int    `json:"indexedChunks"`
	LastIndexError string `json:"lastIndexError,omitempty"`
	Dirty          bool   `json:"dirty"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks := 0
	if s.index != nil {
		chunks = len(s.index.all())
	}
	return Stats{
		RawCount:       len(s.rawEntries),
		IndexedChunks:  chunks,
		LastIndexError: s.lastIndexError,
		Dirty:          s.dirty,
	}
}

// IsDirty reports whether writes have occurred since the last successful
// reindex sync.
func (s *Store) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

func sortedRawEntries(entries []RawEntry) []RawEntry {
	out := append([]RawEntry(nil), entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
