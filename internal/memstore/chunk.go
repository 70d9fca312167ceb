package memstore

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

func hashText(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// splitSections splits markdown text on "## " headings, matching the daily
// and session tier chunking rule. Sections that exceed maxChars are further
// split by slidingWindow.
func splitSections(text string, maxChars, overlap int) []Chunk {
	lines := strings.Split(text, "\n")
	var sections []struct {
		start, end int
		body       string
	}
	curStart := 0
	var cur strings.Builder
	flush := func(endLine int) {
		if cur.Len() == 0 {
			return
		}
		sections = append(sections, struct {
			start, end int
			body       string
		}{curStart, endLine, cur.String()})
		cur.Reset()
	}
	for i, line := range lines {
		if strings.HasPrefix(line, "## ") && cur.Len() > 0 {
			flush(i)
			curStart = i
		}
		cur.WriteString(line)
		cur.WriteString("\n")
	}
	flush(len(lines))

	var out []Chunk
	for _, s := range sections {
		if len(s.body) <= maxChars {
			out = append(out, Chunk{StartLine: s.start, EndLine: s.end, Text: s.body})
			continue
		}
		sub := slidingWindow(s.body, maxChars, overlap)
		for _, c := range sub {
			c.StartLine = s.start
			c.EndLine = s.end
			out = append(out, c)
		}
	}
	return out
}

// slidingWindow splits text into overlapping windows of at most size chars.
func slidingWindow(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = 1400
	}
	if overlap >= size {
		overlap = size / 4
	}
	if len(text) <= size {
		return []Chunk{{Text: text}}
	}
	var out []Chunk
	step := size - overlap
	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		out = append(out, Chunk{Text: text[start:end]})
		if end == len(text) {
			break
		}
	}
	return out
}

// finalizeChunks assigns content hash, path, and source type to raw chunk
// splits, dropping empty/whitespace-only chunks.
func finalizeChunks(raw []Chunk, path, sourceType string) []Chunk {
	out := make([]Chunk, 0, len(raw))
	for _, c := range raw {
		trimmed := strings.TrimSpace(c.Text)
		if trimmed == "" {
			continue
		}
		c.Path = path
		c.SourceType = sourceType
		c.ContentHash = hashText(trimmed)
		out = append(out, c)
	}
	return out
}
