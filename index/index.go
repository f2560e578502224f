// Package index implements the embedding index: vector storage for
// knowledge-base chunks with k-nearest-neighbor search over cosine
// similarity. The native implementation is an in-process flat index with
// an atomic on-disk snapshot; package chromem provides an alternative
// backend over the chromem-go embedded vector database.
package index

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/movne/advisor-backend/core"
	"github.com/movne/advisor-backend/embedder"
)

// Filter restricts search results by chunk attributes. Zero values match
// everything.
type Filter struct {
	Language     core.Language
	DocumentType core.DocumentType
}

// matches reports whether a chunk passes the filter.
func (f *Filter) matches(c core.Chunk) bool {
	if f == nil {
		return true
	}
	if f.Language != "" && c.Language != f.Language {
		return false
	}
	if f.DocumentType != "" && c.Type != f.DocumentType {
		return false
	}
	return true
}

// Searcher is the retrieval capability the context assembler depends on.
// Both the native Index and the chromem backend satisfy it.
type Searcher interface {
	Search(ctx context.Context, query string, k int, filter *Filter) ([]core.ScoredChunk, error)
}

// Index is a flat vector index with single-writer/multi-reader semantics:
// Upsert takes the write lock for the whole apply-and-snapshot step, so
// concurrent searches observe either the pre- or post-upsert state, never
// a partial one.
type Index struct {
	emb  embedder.Embedder
	path string // snapshot file; empty disables persistence

	mu      sync.RWMutex
	dim     int
	entries map[string]*entry
	nextSeq uint64
}

// entry pins a chunk to its vector and its insertion sequence number,
// which breaks similarity ties (earlier inserted wins). Replacing a
// chunk's vector keeps its original sequence number.
type entry struct {
	Chunk  core.Chunk `json:"chunk"`
	Vector []float32  `json:"vector"`
	Seq    uint64     `json:"seq"`
}

// Config configures the index.
type Config struct {
	// SnapshotPath is where the index persists itself. Empty keeps the
	// index memory-only.
	SnapshotPath string
}

// Open creates an index bound to an embedder, loading the snapshot at
// SnapshotPath when one exists. A snapshot whose dimension disagrees with
// the embedder, or that cannot be parsed, fails with an index error and
// nothing is loaded.
func Open(emb embedder.Embedder, cfg Config) (*Index, error) {
	idx := &Index{
		emb:     emb,
		path:    cfg.SnapshotPath,
		dim:     emb.Dimensions(),
		entries: make(map[string]*entry),
	}

	if cfg.SnapshotPath != "" {
		loaded, err := idx.loadSnapshot()
		if err != nil {
			return nil, err
		}
		if loaded > 0 {
			log.Printf("[INDEX] Loaded %d vectors from %s", loaded, cfg.SnapshotPath)
		}
	}

	return idx, nil
}

// Len returns the number of stored vectors.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Dimensions returns the index's fixed vector size.
func (idx *Index) Dimensions() int {
	return idx.dim
}

// Upsert embeds the chunks and stores one vector per chunk, replacing any
// prior vector for the same chunk identity. All vectors are computed
// before the index is touched: an embedding failure or dimension mismatch
// leaves the index in its last-known-good state. The snapshot is written
// after the batch applies; a snapshot write failure keeps the in-memory
// update but surfaces a storage error, since the data is not yet durable.
func (idx *Index) Upsert(ctx context.Context, chunks []core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	vectors := make([][]float32, len(chunks))
	for i, ch := range chunks {
		vec, err := idx.emb.Embed(ctx, ch.Text)
		if err != nil {
			return fmt.Errorf("%w: embed chunk %s: %v", core.ErrIndex, ch.Key(), err)
		}
		if len(vec) != idx.dim {
			return fmt.Errorf("%w: chunk %s has dimension %d, index requires %d",
				core.ErrIndex, ch.Key(), len(vec), idx.dim)
		}
		vectors[i] = vec
	}

	return idx.Put(chunks, vectors)
}

// Put stores externally supplied vectors for the chunks. Any vector whose
// dimension differs from the index's fixed dimension is rejected before
// anything applies.
func (idx *Index) Put(chunks []core.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", core.ErrIndex, len(chunks), len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) != idx.dim {
			return fmt.Errorf("%w: chunk %s has dimension %d, index requires %d",
				core.ErrIndex, chunks[i].Key(), len(vec), idx.dim)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i, ch := range chunks {
		key := ch.Key()
		if existing, ok := idx.entries[key]; ok {
			existing.Chunk = ch
			existing.Vector = vectors[i]
			continue
		}
		idx.entries[key] = &entry{Chunk: ch, Vector: vectors[i], Seq: idx.nextSeq}
		idx.nextSeq++
	}

	if idx.path == "" {
		return nil
	}
	if err := idx.writeSnapshot(); err != nil {
		return fmt.Errorf("%w: persist index snapshot: %v", core.ErrStorage, err)
	}
	return nil
}

// Search embeds the query and returns up to k chunks ordered by cosine
// similarity descending, ties broken by insertion order. An empty or
// fully filtered-out index yields an empty slice, not an error.
func (idx *Index) Search(ctx context.Context, query string, k int, filter *Filter) ([]core.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	queryVec, err := idx.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", core.ErrIndex, err)
	}
	if len(queryVec) != idx.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index requires %d",
			core.ErrIndex, len(queryVec), idx.dim)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scored struct {
		ent *entry
		sim float64
	}

	candidates := make([]scored, 0, len(idx.entries))
	for _, ent := range idx.entries {
		if !filter.matches(ent.Chunk) {
			continue
		}
		candidates = append(candidates, scored{ent: ent, sim: cosine(queryVec, ent.Vector)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		return candidates[i].ent.Seq < candidates[j].ent.Seq
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]core.ScoredChunk, len(candidates))
	for i, c := range candidates {
		results[i] = core.ScoredChunk{Chunk: c.ent.Chunk, Similarity: c.sim}
	}
	return results, nil
}

// cosine computes cosine similarity. Stored vectors are unit-normalized by
// the embedders, but externally supplied ones may not be, so both norms
// are computed rather than assumed.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
