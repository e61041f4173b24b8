// Package index holds the embedding index: chunk documents, their
// vector matrix and build provenance, with similarity search and
// atomic persistence.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"baureg-search/internal/domain"
)

// defaultBatchSize bounds peak memory while encoding chunks.
const defaultBatchSize = 32

// PlaceholderContent is returned by Search when the index is empty, so
// callers can render a graceful empty state instead of a blank context.
const PlaceholderContent = "No Stuttgart building regulation documents are currently loaded. Please check the system configuration."

// Provenance records how and from what the index was built.
type Provenance struct {
	ModelName     string            `json:"model_name"`
	EmbeddingDim  int               `json:"embedding_dim"`
	DocumentCount int               `json:"document_count"`
	CreatedAt     time.Time         `json:"created_at"`
	Files         map[string]string `json:"files"`
}

// Index is the immutable aggregate of documents, vectors and
// provenance. It is built or loaded wholesale and safe for concurrent
// readers; replacement happens by swapping the reference, never by
// mutating in place.
type Index struct {
	docs       []domain.Document
	vectors    [][]float32
	provenance Provenance
}

// Empty returns an index with zero documents.
func Empty(modelName string) *Index {
	return &Index{provenance: Provenance{
		ModelName: modelName,
		CreatedAt: time.Now().UTC(),
		Files:     map[string]string{},
	}}
}

// Build encodes every document through the embedder in fixed-size
// batches, preserving order, and assembles the index. Vectors are
// L2-normalized at build time so search can rank by plain dot product.
func Build(ctx context.Context, docs []domain.Document, emb domain.Embedder, files map[string]string) (*Index, error) {
	if len(docs) == 0 {
		return Empty(emb.Name()), nil
	}
	vectors := make([][]float32, 0, len(docs))
	for start := 0; start < len(docs); start += defaultBatchSize {
		end := start + defaultBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		texts := make([]string, 0, end-start)
		for _, d := range docs[start:end] {
			texts = append(texts, d.Content)
		}
		batch, err := emb.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("encode batch %d-%d: %w", start, end, err)
		}
		for _, v := range batch {
			vectors = append(vectors, normalize(v))
		}
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	if files == nil {
		files = map[string]string{}
	}
	return &Index{
		docs:    docs,
		vectors: vectors,
		provenance: Provenance{
			ModelName:     emb.Name(),
			EmbeddingDim:  dim,
			DocumentCount: len(docs),
			CreatedAt:     time.Now().UTC(),
			Files:         files,
		},
	}, nil
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return len(ix.docs) }

// Dimension returns the embedding dimensionality.
func (ix *Index) Dimension() int { return ix.provenance.EmbeddingDim }

// Provenance returns the build provenance.
func (ix *Index) Provenance() Provenance { return ix.provenance }

// Documents returns the indexed documents in build order.
func (ix *Index) Documents() []domain.Document { return ix.docs }

// Search scores the query vector against every row and returns the
// topK highest-scoring documents in descending score order, ties broken
// by build ordinal. An empty index yields a single placeholder result,
// never an error.
func (ix *Index) Search(query []float32, topK int) []domain.SearchResult {
	if topK <= 0 {
		topK = 5
	}
	if len(ix.docs) == 0 {
		return []domain.SearchResult{placeholderResult()}
	}
	q := normalize(query)
	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(ix.vectors))
	for i, v := range ix.vectors {
		scores[i] = scored{i, dot(q, v)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].idx < scores[j].idx
	})
	if topK > len(scores) {
		topK = len(scores)
	}
	results := make([]domain.SearchResult, 0, topK)
	for _, s := range scores[:topK] {
		results = append(results, domain.SearchResult{Document: ix.docs[s.idx], Score: s.score})
	}
	return results
}

func placeholderResult() domain.SearchResult {
	return domain.SearchResult{
		Document: domain.Document{
			Content:  PlaceholderContent,
			Metadata: domain.ChunkMetadata{DocumentType: "System Notice", DocumentName: "system"},
			Source:   "system",
		},
	}
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func normalize(v []float32) []float32 {
	norm := 0.0
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
