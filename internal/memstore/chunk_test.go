package memstore

import "testing"

func TestSplitSectionsOnHeadings(t *testing.T) {
	text := "## First\nline one\nline two\n## Second\nline three\n"
	chunks := splitSections(text, 2200, 180)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
}

func TestSplitSectionsFurtherSplitsLongSections(t *testing.T) {
	body := make([]byte, 3000)
	for i := range body {
		body[i] = 'x'
	}
	text := "## Big\n" + string(body) + "\n"
	chunks := splitSections(text, 500, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected the oversized section to be split, got %d chunks", len(chunks))
	}
}

func TestSlidingWindowOverlap(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := slidingWindow(text, 10, 3)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple windows, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Text) > 10 {
			t.Fatalf("chunk exceeds max size: %q", c.Text)
		}
	}
}

func TestFinalizeChunksDropsBlankAndHashes(t *testing.T) {
	raw := []Chunk{{Text: "real content"}, {Text: "   "}, {Text: ""}}
	out := finalizeChunks(raw, "path.md", "daily")
	if len(out) != 1 {
		t.Fatalf("got %d chunks, want 1", len(out))
	}
	if out[0].ContentHash == "" || out[0].Path != "path.md" || out[0].SourceType != "daily" {
		t.Fatalf("unexpected chunk: %+v", out[0])
	}
}

func TestTokenizeDropsStopWordsAndShortTokens(t *testing.T) {
	toks := tokenize("The quick fox is on a mat")
	for _, t2 := range toks {
		if stopWords[t2] || len(t2) <= 2 {
			t.Fatalf("unexpected token survived filtering: %q", t2)
		}
	}
}

func TestLocalEmbedderIsUnitNormalized(t *testing.T) {
	e := &localEmbedder{dim: 32}
	vec, err := e.Embed(nil, "hello world testing vectors")
	if err != nil {
		t.Fatal(err)
	}
	var sumSq float64
	for _, v := range vec {
		sumSq += v * v
	}
	if sumSq < 0.99 || sumSq > 1.01 {
		if sumSq != 0 {
			t.Fatalf("vector not unit-normalized: sumSq = %f", sumSq)
		}
	}
}

func TestBM25CorpusScoresRelevantDocHigher(t *testing.T) {
	chunks := []Chunk{
		{Text: "postgres database storage engine"},
		{Text: "completely unrelated text about gardening"},
	}
	corpus := buildBM25Corpus(chunks)
	terms := tokenize("postgres storage")
	s0 := corpus.score(0, terms)
	s1 := corpus.score(1, terms)
	if s0 <= s1 {
		t.Fatalf("expected relevant doc to score higher: s0=%f s1=%f", s0, s1)
	}
}
