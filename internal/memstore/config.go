package memstore

import "time"

// Config controls chunking, embedding, and search behavior. Zero values are
// replaced with the defaults below by Open.
type Config struct {
	RootDir string

	// Chunking
	SectionMaxChars  int // daily/session section split threshold (default 2200)
	MainChunkChars   int // sliding window size for main long-term file (default 1400)
	ExtraChunkChars  int // sliding window size for everything else (default 1100)
	ChunkOverlap     int // sliding window overlap (default 180)

	// Embedding
	EmbedProvider  string // "openai" | "gemini" | "local" | "" (auto-detect)
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	GeminiAPIKey   string
	LocalDimension int // dimension for the local hashed embedder (default 256)

	// Search
	TextWeight   float64 // default 0.35
	VectorWeight float64 // default 0.65
	MinScore     float64 // default 0.12
	SourceBoost  map[string]float64

	// Duplicate filtering
	DuplicateWindow time.Duration // default 6h

	// Compaction
	CompactionTriggerCount int // default 120
	CompactionBatchSize    int // default 250
	CompactionKeepRecent   int // default 80
	ImportanceKeywords     []string

	// HealthPingPatterns are regexes (matched case-insensitively against the
	// whole trimmed message) that mark a turn as a health check to skip
	// rather than remember. Defaults to ping/healthcheck/heartbeat/"/health".
	HealthPingPatterns []string

	// Filesystem watch debounce
	ReindexDebounce time.Duration // default 1.2s

	SessionMarkdownEnabled bool
}

func (c *Config) applyDefaults() {
	if c.SectionMaxChars <= 0 {
		c.SectionMaxChars = 2200
	}
	if c.MainChunkChars <= 0 {
		c.MainChunkChars = 1400
	}
	if c.ExtraChunkChars <= 0 {
		c.ExtraChunkChars = 1100
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 180
	}
	if c.LocalDimension <= 0 {
		c.LocalDimension = 256
	}
	if c.TextWeight == 0 && c.VectorWeight == 0 {
		c.TextWeight = 0.35
		c.VectorWeight = 0.65
	}
	sum := c.TextWeight + c.VectorWeight
	if sum > 0 {
		c.TextWeight /= sum
		c.VectorWeight /= sum
	}
	if c.MinScore == 0 {
		c.MinScore = 0.12
	}
	if c.SourceBoost == nil {
		c.SourceBoost = map[string]float64{
			"main":    0.05,
			"session": 0.03,
			"daily":   0.0,
			"extra":   0.0,
		}
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = 6 * time.Hour
	}
	if c.CompactionTriggerCount <= 0 {
		c.CompactionTriggerCount = 120
	}
	if c.CompactionBatchSize <= 0 {
		c.CompactionBatchSize = 250
	}
	if c.CompactionKeepRecent <= 0 {
		c.CompactionKeepRecent = 80
	}
	if len(c.ImportanceKeywords) == 0 {
		c.ImportanceKeywords = []string{
			"decided", "decision", "important", "remember", "always", "never",
			"prefer", "convention", "policy", "credential", "deadline",
		}
	}
	if c.ReindexDebounce <= 0 {
		c.ReindexDebounce = 1200 * time.Millisecond
	}
	if len(c.HealthPingPatterns) == 0 {
		c.HealthPingPatterns = []string{`^\s*(ping|healthcheck|heartbeat|/health)\s*$`}
	}
}
