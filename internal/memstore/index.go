package memstore

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/nx/nxclaw/internal/fsutil"
)

// index holds the in-memory chunk table plus the embedding cache, backed by
// two on-disk JSON files: index.json and embedcache.json.
type index struct {
	mu         sync.RWMutex
	indexPath  string
	cachePath  string
	chunks     map[string]Chunk // by content hash
	embedCache map[string][]float64
	embedder   Embedder
}

func openIndex(rootDir string, embedder Embedder) (*index, error) {
	ix := &index{
		indexPath:  filepath.Join(rootDir, "index.json"),
		cachePath:  filepath.Join(rootDir, "embedcache.json"),
		chunks:     map[string]Chunk{},
		embedCache: map[string][]float64{},
		embedder:   embedder,
	}
	var idxFile indexFile
	if err := fsutil.ReadJSON(ix.indexPath, &idxFile); err == nil {
		for _, c := range idxFile.Chunks {
			ix.chunks[c.ContentHash] = c
		}
	}
	var cacheFile embedCacheFile
	if err := fsutil.ReadJSON(ix.cachePath, &cacheFile); err == nil && cacheFile.Entries != nil {
		ix.embedCache = cacheFile.Entries
	}
	return ix, nil
}

func (ix *index) persistLocked() error {
	list := make([]Chunk, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		list = append(list, c)
	}
	if err := fsutil.WriteJSONAtomic(ix.indexPath, indexFile{Chunks: list}); err != nil {
		return err
	}
	return fsutil.WriteJSONAtomic(ix.cachePath, embedCacheFile{Entries: ix.embedCache})
}

// reindexPath replaces all chunks for path with freshly split chunks,
// reusing embeddings from the prior index or the embedding cache for hashes
// already known; only genuinely new hashes are sent to the embedder. The
// embedding cache only ever grows, here and via rebuild.
func (ix *index) reindexPath(ctx context.Context, path, sourceType string, fresh []Chunk) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for h, c := range ix.chunks {
		if c.Path == path {
			delete(ix.chunks, h)
		}
	}

	for i, c := range fresh {
		if vec, ok := ix.embedCache[c.ContentHash]; ok {
			fresh[i].Vector = vec
			continue
		}
		vec, err := ix.embedder.Embed(ctx, c.Text)
		if err != nil {
			// Skip embedding on provider failure; the chunk is still kept
			// text-searchable via BM25.
			continue
		}
		fresh[i].Vector = vec
		ix.embedCache[c.ContentHash] = vec
	}
	for _, c := range fresh {
		ix.chunks[c.ContentHash] = c
	}
	return ix.persistLocked()
}

// rebuild reindexes every path from scratch. The chunk table is cleared and
// rebuilt from the walked files, but the embedding cache is left intact:
// it's keyed by content hash, so unchanged content still hits the cache in
// reindexPath and rebuilding over unchanged files issues no new embedding
// calls (spec §8).
func (ix *index) rebuild(ctx context.Context, byPath map[string][]Chunk) error {
	ix.mu.Lock()
	ix.chunks = map[string]Chunk{}
	ix.mu.Unlock()

	for path, chunks := range byPath {
		sourceType := ""
		if len(chunks) > 0 {
			sourceType = chunks[0].SourceType
		}
		if err := ix.reindexPath(ctx, path, sourceType, chunks); err != nil {
			return err
		}
	}
	return nil
}

func (ix *index) all() []Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Chunk, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		out = append(out, c)
	}
	return out
}
