package memstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := Config{RootDir: t.TempDir(), SessionMarkdownEnabled: true}
	s, err := Open(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRememberTurnAppendsRawAndDaily(t *testing.T) {
	s := newTestStore(t)
	entry, wrote, err := s.RememberTurn("user", "telegram", "chat:1", "Hello there")
	if err != nil {
		t.Fatal(err)
	}
	if !wrote || entry.Text != "Hello there" {
		t.Fatalf("entry = %+v, wrote = %v", entry, wrote)
	}
	if s.RawCount() != 1 {
		t.Fatalf("raw count = %d", s.RawCount())
	}
	dailyPath := filepath.Join(s.dailyDir, fsutilDailyName())
	if _, err := os.Stat(dailyPath); err != nil {
		t.Fatalf("expected daily file: %v", err)
	}
	sessionPath := s.sessionMarkdownPath("chat:1")
	if _, err := os.Stat(sessionPath); err != nil {
		t.Fatalf("expected session file: %v", err)
	}
}

func fsutilDailyName() string {
	return time.Now().UTC().Format("2006-01-02") + ".md"
}

func TestRememberTurnSkipsHealthPing(t *testing.T) {
	s := newTestStore(t)
	_, wrote, err := s.RememberTurn("system", "internal", "", "ping")
	if err != nil {
		t.Fatal(err)
	}
	if wrote {
		t.Fatal("expected health ping to be skipped")
	}
}

func TestRememberTurnSkipsDuplicateWithinWindow(t *testing.T) {
	s := newTestStore(t)
	_, wrote1, err := s.RememberTurn("user", "telegram", "chat:1", "same text")
	if err != nil {
		t.Fatal(err)
	}
	if !wrote1 {
		t.Fatal("expected first write")
	}
	_, wrote2, err := s.RememberTurn("user", "telegram", "chat:1", "same text")
	if err != nil {
		t.Fatal(err)
	}
	if wrote2 {
		t.Fatal("expected duplicate to be skipped")
	}
	if s.RawCount() != 1 {
		t.Fatalf("raw count = %d, want 1", s.RawCount())
	}
}

func TestAddNoteAndSearchFindsIt(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AddNote("database choice", "we use postgres for storage"); err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search(context.Background(), "postgres storage", 5, SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	found := false
	for _, h := range hits {
		if h.Chunk.SourceType == "main" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a main-sourced hit, got %+v", hits)
	}
}

func TestSearchSessionStrictExcludesOtherSessions(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.RememberTurn("user", "telegram", "session-a", "the launch codes are secret alpha"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.RememberTurn("user", "telegram", "session-b", "the launch codes are secret beta"); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(context.Background(), "launch codes secret", 10, SearchOptions{
		SessionKey: "session-a",
		Mode:       ModeSessionStrict,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.Chunk.Path != "" && h.Chunk.Path == s.sessionMarkdownPath("session-b") {
			t.Fatalf("session-strict search leaked another session's chunk: %+v", h)
		}
	}
}

func TestWriteSoulReplaceAndAppend(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteSoul(SoulReplace, "I am the assistant.", false); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteSoul(SoulAppend, "Learned a new preference.", true); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(s.soulPath)
	if err != nil {
		t.Fatal(err)
	}
	if !containsAll(string(data), "I am the assistant.", "Learned a new preference.") {
		t.Fatalf("soul content missing expected text: %q", data)
	}
	if _, err := os.Stat(s.soulJournal); err != nil {
		t.Fatalf("expected soul journal mirror: %v", err)
	}
}

func containsAll(haystack string, needles ...string) bool {
	for _, n := range needles {
		if !strings.Contains(haystack, n) {
			return false
		}
	}
	return true
}

func TestCompactMovesOldestBatchAndKeepsRecent(t *testing.T) {
	s := newTestStore(t)
	s.cfg.CompactionKeepRecent = 5
	s.cfg.CompactionBatchSize = 10

	for i := 0; i < 20; i++ {
		if _, _, err := s.RememberTurn("user", "telegram", "chat:1", uniqueText(i)); err != nil {
			t.Fatal(err)
		}
	}
	summary, err := s.Compact(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary == nil {
		t.Fatal("expected a summary")
	}
	if summary.CompactedCount != 10 {
		t.Fatalf("compacted count = %d, want 10", summary.CompactedCount)
	}
	if s.RawCount() != 10 {
		t.Fatalf("raw count after compaction = %d, want 10", s.RawCount())
	}
	if _, err := os.Stat(summary.MarkdownPath); err != nil {
		t.Fatalf("expected compaction markdown file: %v", err)
	}
}

func uniqueText(i int) string {
	return "entry number " + string(rune('a'+i%26)) + string(rune('0'+i%10))
}

func TestHandleRememberFact(t *testing.T) {
	s := newTestStore(t)
	msg, err := s.HandleRememberFact([]byte(`{"key":"lang","value":"Go"}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg == "" {
		t.Fatal("expected non-empty confirmation")
	}
}

// countingEmbedder wraps localEmbedder to count Embed calls, so tests can
// assert on how many chunks actually reached the embedder versus the cache.
type countingEmbedder struct {
	inner *localEmbedder
	calls int
}

func (e *countingEmbedder) Name() string { return e.inner.Name() }

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	e.calls++
	return e.inner.Embed(ctx, text)
}

func TestRebuildIndexOverUnchangedFilesIssuesNoNewEmbeddingCalls(t *testing.T) {
	s := newTestStore(t)
	ce := &countingEmbedder{inner: &localEmbedder{dim: 32}}
	s.embedder = ce
	s.index.embedder = ce

	if _, _, err := s.RememberTurn("user", "telegram", "chat:1", "the first message about golang channels"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.RememberTurn("assistant", "telegram", "chat:1", "channels in Go are typed conduits"); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := s.RebuildIndex(ctx); err != nil {
		t.Fatalf("first rebuild: %v", err)
	}
	first := ce.calls
	if first == 0 {
		t.Fatal("expected the first rebuild to embed at least one chunk")
	}

	if err := s.RebuildIndex(ctx); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	if ce.calls != first {
		t.Fatalf("expected no new embedding calls on rebuild over unchanged files, went from %d to %d", first, ce.calls)
	}
}
