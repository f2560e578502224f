// Package chromem backs the retrieval index with chromem-go, an embedded
// pure-Go vector database with its own on-disk persistence. It satisfies
// the same index.Searcher interface as the native flat index and is
// selected by configuration for deployments that prefer chromem's storage
// format over the JSON snapshot.
package chromem

import (
	"context"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/movne/advisor-backend/core"
	"github.com/movne/advisor-backend/embedder"
	"github.com/movne/advisor-backend/index"
)

const collectionName = "knowledge_chunks"

// Store wraps a chromem collection of knowledge chunks.
type Store struct {
	db  *chromem.DB
	col *chromem.Collection
	emb embedder.Embedder
	dim int
}

// New opens a chromem-backed store. A non-empty path makes the database
// persistent; chunks written in earlier runs are available immediately.
func New(emb embedder.Embedder, path string) (*Store, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("%w: open chromem db: %v", core.ErrStorage, err)
		}
	}

	// Embeddings are supplied explicitly, so no embedding func is wired
	// into the collection itself.
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open chromem collection: %v", core.ErrStorage, err)
	}

	return &Store{db: db, col: col, emb: emb, dim: emb.Dimensions()}, nil
}

// Upsert embeds and stores the chunks, replacing prior vectors for the
// same chunk identities. Vectors are computed before any write, matching
// the native index's all-or-nothing behavior on embedding failures.
func (s *Store) Upsert(ctx context.Context, chunks []core.Chunk) error {
	docs := make([]chromem.Document, 0, len(chunks))
	for _, ch := range chunks {
		vec, err := s.emb.Embed(ctx, ch.Text)
		if err != nil {
			return fmt.Errorf("%w: embed chunk %s: %v", core.ErrIndex, ch.Key(), err)
		}
		if len(vec) != s.dim {
			return fmt.Errorf("%w: chunk %s has dimension %d, index requires %d",
				core.ErrIndex, ch.Key(), len(vec), s.dim)
		}

		docs = append(docs, chromem.Document{
			ID:        ch.Key(),
			Content:   ch.Text,
			Embedding: vec,
			Metadata: map[string]string{
				"document_id": ch.DocumentID,
				"seq":         strconv.Itoa(ch.Seq),
				"offset":      strconv.Itoa(ch.Offset),
				"length":      strconv.Itoa(ch.Length),
				"language":    string(ch.Language),
				"doc_type":    string(ch.Type),
			},
		})
	}

	for _, doc := range docs {
		if err := s.col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("%w: add chunk %s: %v", core.ErrStorage, doc.ID, err)
		}
	}
	return nil
}

// Search returns up to k chunks by similarity descending. chromem rejects
// result counts above the collection size, so k is clamped first; an
// empty collection yields an empty slice.
func (s *Store) Search(ctx context.Context, query string, k int, filter *index.Filter) ([]core.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	if n := s.col.Count(); n < k {
		if n == 0 {
			return nil, nil
		}
		k = n
	}

	queryVec, err := s.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", core.ErrIndex, err)
	}

	where := map[string]string{}
	if filter != nil {
		if filter.Language != "" {
			where["language"] = string(filter.Language)
		}
		if filter.DocumentType != "" {
			where["doc_type"] = string(filter.DocumentType)
		}
	}
	if len(where) == 0 {
		where = nil
	}

	results, err := s.col.QueryEmbedding(ctx, queryVec, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chromem query: %v", core.ErrIndex, err)
	}

	scored := make([]core.ScoredChunk, 0, len(results))
	for _, res := range results {
		scored = append(scored, core.ScoredChunk{
			Chunk:      chunkFromResult(res),
			Similarity: float64(res.Similarity),
		})
	}
	return scored, nil
}

func chunkFromResult(res chromem.Result) core.Chunk {
	seq, _ := strconv.Atoi(res.Metadata["seq"])
	offset, _ := strconv.Atoi(res.Metadata["offset"])
	length, _ := strconv.Atoi(res.Metadata["length"])
	return core.Chunk{
		DocumentID: res.Metadata["document_id"],
		Seq:        seq,
		Text:       res.Content,
		Offset:     offset,
		Length:     length,
		Language:   core.Language(res.Metadata["language"]),
		Type:       core.DocumentType(res.Metadata["doc_type"]),
	}
}
