package memstore

import (
	"context"
	"math"
	"sort"
)

const (
	bm25K1 = 1.4
	bm25B  = 0.75
)

// bm25Corpus precomputes term frequency, document length, and document
// frequency maps for a set of chunks so BM25 scoring is O(query terms) per
// chunk rather than re-tokenizing on every search.
type bm25Corpus struct {
	termFreq   []map[string]int // per chunk
	docLen     []int
	docFreq    map[string]int
	avgDocLen  float64
	totalDocs  int
}

func buildBM25Corpus(chunks []Chunk) *bm25Corpus {
	c := &bm25Corpus{
		termFreq: make([]map[string]int, len(chunks)),
		docLen:   make([]int, len(chunks)),
		docFreq:  map[string]int{},
	}
	var totalLen int
	for i, chunk := range chunks {
		toks := tokenize(chunk.Text)
		tf := map[string]int{}
		for _, t := range toks {
			tf[t]++
		}
		c.termFreq[i] = tf
		c.docLen[i] = len(toks)
		totalLen += len(toks)
		for t := range tf {
			c.docFreq[t]++
		}
	}
	c.totalDocs = len(chunks)
	if c.totalDocs > 0 {
		c.avgDocLen = float64(totalLen) / float64(c.totalDocs)
	}
	return c
}

func (c *bm25Corpus) score(docIdx int, queryTerms []string) float64 {
	if c.totalDocs == 0 || c.avgDocLen == 0 {
		return 0
	}
	tf := c.termFreq[docIdx]
	dl := float64(c.docLen[docIdx])
	var score float64
	for _, term := range queryTerms {
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		df := c.docFreq[term]
		idf := math.Log(1 + (float64(c.totalDocs)-float64(df)+0.5)/(float64(df)+0.5))
		numerator := f * (bm25K1 + 1)
		denominator := f + bm25K1*(1-bm25B+bm25B*dl/c.avgDocLen)
		score += idf * numerator / denominator
	}
	return score
}

// Search performs the hybrid BM25+cosine retrieval defined in spec §4.4.
func (s *Store) Search(ctx context.Context, query string, limit int, opts SearchOptions) ([]SearchHit, error) {
	queryTerms := tokenize(query)

	chunks := s.filterChunksForSearch(opts)
	corpus := buildBM25Corpus(chunks)

	var queryVec []float64
	if s.embedder != nil {
		if v, err := s.embedder.Embed(ctx, query); err == nil {
			queryVec = v
		}
	}

	type scored struct {
		chunk Chunk
		score float64
	}
	var results []scored
	for i, chunk := range chunks {
		bm25 := corpus.score(i, queryTerms)
		var cos float64
		if queryVec != nil && len(chunk.Vector) > 0 {
			cos = cosineSimilarity(queryVec, chunk.Vector)
		}
		boost := s.cfg.SourceBoost[chunk.SourceType]
		combined := s.cfg.TextWeight*bm25 + s.cfg.VectorWeight*cos + boost
		if combined < s.cfg.MinScore {
			continue
		}
		results = append(results, scored{chunk: chunk, score: combined})
	}

	// Session-strict mode additionally surfaces raw entries from the exact
	// session (not just its markdown file), synthesized as pseudo-chunks.
	if opts.Mode == ModeSessionStrict && opts.SessionKey != "" {
		for _, e := range s.rawEntriesForSession(opts.SessionKey) {
			toks := tokenize(e.Text)
			overlap := 0
			seen := map[string]bool{}
			for _, t := range toks {
				seen[t] = true
			}
			for _, qt := range queryTerms {
				if seen[qt] {
					overlap++
				}
			}
			if overlap == 0 {
				continue
			}
			score := float64(overlap) / float64(len(queryTerms)+1)
			if score < s.cfg.MinScore {
				continue
			}
			results = append(results, scored{
				chunk: Chunk{SourceType: "session_raw", Text: e.Text, Path: "raw:" + e.SessionKey},
				score: score,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}
	out := make([]SearchHit, limit)
	for i := 0; i < limit; i++ {
		out[i] = SearchHit{Chunk: results[i].chunk, Score: results[i].score}
	}
	return out, nil
}

// filterChunksForSearch applies the session-scoping rules: in session_strict
// mode only the exact session file's chunks are eligible (compact/soul
// corpora excluded); in global mode with a sessionKey set, other sessions'
// chunks are excluded but everything else remains eligible.
func (s *Store) filterChunksForSearch(opts SearchOptions) []Chunk {
	all := s.index.all()
	if opts.SessionKey == "" {
		return all
	}
	sessionPath := s.sessionMarkdownPath(opts.SessionKey)
	if opts.Mode == ModeSessionStrict {
		out := make([]Chunk, 0, len(all))
		for _, c := range all {
			if c.Path == sessionPath {
				out = append(out, c)
			}
		}
		return out
	}
	out := make([]Chunk, 0, len(all))
	for _, c := range all {
		if c.SourceType == "session" && c.Path != sessionPath {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *Store) rawEntriesForSession(sessionKey string) []RawEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RawEntry
	for _, e := range s.rawEntries {
		if e.SessionKey == sessionKey {
			out = append(out, e)
		}
	}
	return out
}
