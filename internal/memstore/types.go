// Package memstore implements the multi-layer knowledge store described in
// spec §4.4: an append-only raw log, daily/session/long-term markdown tiers,
// a chunked embedding index, and hybrid BM25+cosine search.
package memstore

import "time"

// RawEntry is a single line in the append-only conversation log.
type RawEntry struct {
	ID         string    `json:"id"`
	TS         time.Time `json:"ts"`
	Actor      string    `json:"actor"` // "user" | "assistant" | "system"
	Source     string    `json:"source"`
	SessionKey string    `json:"sessionKey"`
	Text       string    `json:"text"`
}

// Note is a long-term note appended outside the turn-by-turn log.
type Note struct {
	ID    string    `json:"id"`
	TS    time.Time `json:"ts"`
	Title string    `json:"title"`
	Text  string    `json:"text"`
}

// Chunk is one indexed unit of text, carrying its embedding vector.
type Chunk struct {
	ContentHash string    `json:"contentHash"`
	Path        string    `json:"path"`
	SourceType  string    `json:"sourceType"` // "daily" | "session" | "main" | "extra"
	StartLine   int       `json:"startLine"`
	EndLine     int       `json:"endLine"`
	Vector      []float64 `json:"vector"`
	Text        string    `json:"text"`
}

type indexFile struct {
	Chunks []Chunk `json:"chunks"`
}

type embedCacheFile struct {
	Entries map[string][]float64 `json:"entries"`
}

// CompactionSummary is the record produced when a batch of raw entries is
// compacted out of the live log.
type CompactionSummary struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
	CompactedFrom   time.Time `json:"compactedFrom"`
	CompactedTo     time.Time `json:"compactedTo"`
	CompactedCount  int       `json:"compactedCount"`
	MarkdownPath    string    `json:"markdownPath"`
}

// SearchMode controls session scoping for Search.
type SearchMode string

const (
	ModeGlobal        SearchMode = "global"
	ModeSessionStrict SearchMode = "session_strict"
)

// SearchOptions parametrizes Search.
type SearchOptions struct {
	SessionKey string
	Mode       SearchMode
}

// SearchHit is one ranked result from Search.
type SearchHit struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// WorkingMemory is the bounded context assembly spec §4.4 defines for
// injection into the LLM prompt.
type WorkingMemory struct {
	MainExcerpts   []string `json:"mainExcerpts"`
	SoulExcerpts   []string `json:"soulExcerpts"`
	DailyExcerpts  []string `json:"dailyExcerpts"`
}
