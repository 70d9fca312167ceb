package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nx/nxclaw/internal/fsutil"
	"github.com/nx/nxclaw/internal/shared"
)

func jsonLine(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("memstore: marshal: %w", err)
	}
	return string(data), nil
}

// MaybeCompact runs Compact when the live raw log exceeds the configured
// trigger count. Returns the summary produced, or nil if no compaction ran.
func (s *Store) MaybeCompact(ctx context.Context) (*CompactionSummary, error) {
	if s.RawCount() <= s.cfg.CompactionTriggerCount {
		return nil, nil
	}
	return s.Compact(ctx)
}

// Compact flushes salient content from the current raw batch into the daily
// and long-term files, then moves the oldest batch (bounded by
// CompactionBatchSize and CompactionKeepRecent) into a summary record,
// rewriting the raw log to omit the moved entries.
func (s *Store) Compact(ctx context.Context) (*CompactionSummary, error) {
	s.mu.Lock()
	entries := sortedRawEntries(s.rawEntries)
	s.mu.Unlock()

	if len(entries) <= s.cfg.CompactionKeepRecent {
		return nil, nil
	}

	movable := len(entries) - s.cfg.CompactionKeepRecent
	batchSize := s.cfg.CompactionBatchSize
	if batchSize > movable {
		batchSize = movable
	}
	batch := entries[:batchSize]
	remaining := entries[batchSize:]

	if err := s.flushSalientBeforeCompaction(batch); err != nil {
		return nil, err
	}

	summary := buildCompactionSummary(batch, s.cfg.ImportanceKeywords)
	mdPath := filepath.Join(s.rootDir, "compact-md", "compact-"+summary.ID+".md")
	if err := fsutil.WriteFileAtomic(mdPath, []byte(summary.Content)); err != nil {
		return nil, fmt.Errorf("memstore: write compaction markdown: %w", err)
	}
	summary.MarkdownPath = mdPath

	heading := fsutil.TimestampHeading(2, "Compaction: "+summary.Title, summary.CreatedAt)
	if err := fsutil.AppendLine(s.mainPath, heading+summary.Content+"\n"); err != nil {
		return nil, fmt.Errorf("memstore: append long-term compaction block: %w", err)
	}
	if err := fsutil.AppendLine(s.soulJournal, fsutil.TimestampHeading(3, "Compacted "+fmt.Sprint(summary.CompactedCount)+" entries", summary.CreatedAt)); err != nil {
		return nil, fmt.Errorf("memstore: append soul journal: %w", err)
	}

	lines := make([]string, 0, len(remaining))
	for _, e := range remaining {
		data, err := jsonLine(e)
		if err != nil {
			return nil, err
		}
		lines = append(lines, data)
	}
	if err := fsutil.RewriteLines(s.rawPath, lines); err != nil {
		return nil, fmt.Errorf("memstore: rewrite raw log: %w", err)
	}

	s.mu.Lock()
	s.rawEntries = remaining
	s.mu.Unlock()

	if err := s.RebuildIndex(ctx); err != nil {
		s.logger.Warn("memstore: reindex after compaction failed", "error", err)
	}

	s.emit("memory.compacted", summary)
	return &summary, nil
}

// flushSalientBeforeCompaction writes an importance-keyword-matching entry
// list to the daily and long-term files before the batch is removed from
// the live raw log.
func (s *Store) flushSalientBeforeCompaction(batch []RawEntry) error {
	re := importanceKeywordsRegex(s.cfg.ImportanceKeywords)
	var salient []string
	for _, e := range batch {
		if re.MatchString(e.Text) {
			salient = append(salient, fmt.Sprintf("- [%s/%s] %s", e.Actor, e.Source, e.Text))
		}
	}
	if len(salient) == 0 {
		return nil
	}
	now := time.Now().UTC()
	body := strings.Join(salient, "\n") + "\n"
	dailyPath := filepath.Join(s.dailyDir, fsutil.DailyFileName(now))
	if err := fsutil.AppendLine(dailyPath, fsutil.TimestampHeading(3, "Memory flush", now)+body); err != nil {
		return fmt.Errorf("memstore: flush salient to daily: %w", err)
	}
	if err := fsutil.AppendLine(s.mainPath, fsutil.TimestampHeading(3, "Memory flush", now)+body); err != nil {
		return fmt.Errorf("memstore: flush salient to long-term: %w", err)
	}
	return nil
}

func buildCompactionSummary(batch []RawEntry, keywords []string) CompactionSummary {
	now := time.Now().UTC()
	actorCounts := map[string]int{}
	wordCounts := map[string]int{}
	re := importanceKeywordsRegex(keywords)
	var keyEvents []string
	for _, e := range batch {
		actorCounts[e.Actor]++
		for _, tok := range tokenize(e.Text) {
			wordCounts[tok]++
		}
		if re.MatchString(e.Text) {
			keyEvents = append(keyEvents, truncateText(e.Text, 160))
		}
	}
	topKeywords := topN(wordCounts, 12)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Compacted %d entries from %s to %s.\n\n", len(batch), batch[0].TS.Format(time.RFC3339), batch[len(batch)-1].TS.Format(time.RFC3339))
	sb.WriteString("Actor counts:\n")
	for actor, n := range actorCounts {
		fmt.Fprintf(&sb, "- %s: %d\n", actor, n)
	}
	sb.WriteString("\nTop keywords: " + strings.Join(topKeywords, ", ") + "\n")
	if len(keyEvents) > 0 {
		sb.WriteString("\nKey events:\n")
		for _, ev := range keyEvents {
			sb.WriteString("- " + ev + "\n")
		}
	}

	return CompactionSummary{
		ID:             shared.NewID(),
		Title:          fmt.Sprintf("%d entries, %s", len(batch), now.Format("2006-01-02")),
		Content:        sb.String(),
		CreatedAt:      now,
		CompactedFrom:  batch[0].TS,
		CompactedTo:    batch[len(batch)-1].TS,
		CompactedCount: len(batch),
	}
}

func topN(counts map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	list := make([]kv, 0, len(counts))
	for k, v := range counts {
		list = append(list, kv{k, v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].v != list[j].v {
			return list[i].v > list[j].v
		}
		return list[i].k < list[j].k
	})
	if n > len(list) {
		n = len(list)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = list[i].k
	}
	return out
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
