package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baureg-search/internal/domain"
)

type stubEmbedder struct {
	vecs map[string][]float32
	fail bool
}

func (s *stubEmbedder) Name() string                  { return "stub" }
func (s *stubEmbedder) Prepare(corpus []string) error { return nil }
func (s *stubEmbedder) Dimension() int                { return 3 }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("stub embed failure")
	}
	if v, ok := s.vecs[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func docsFor(contents ...string) []domain.Document {
	docs := make([]domain.Document, 0, len(contents))
	for i, c := range contents {
		docs = append(docs, domain.Document{
			Content:    c,
			DocumentID: "doc_" + string(rune('a'+i)),
			Metadata:   domain.ChunkMetadata{DocumentName: "test.pdf", PageNumber: 1},
		})
	}
	return docs
}

func TestBuildAndSearchRanking(t *testing.T) {
	emb := &stubEmbedder{vecs: map[string][]float32{
		"setback rules":  {1, 0, 0},
		"fire safety":    {0, 1, 0},
		"parking spaces": {0.9, 0.1, 0},
	}}
	ix, err := Build(context.Background(), docsFor("setback rules", "fire safety", "parking spaces"), emb, nil)
	require.NoError(t, err)
	require.Equal(t, 3, ix.Len())

	results := ix.Search([]float32{1, 0, 0}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "setback rules", results[0].Document.Content)
	assert.Equal(t, "parking spaces", results[1].Document.Content)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchTieBreakIsBuildOrder(t *testing.T) {
	emb := &stubEmbedder{vecs: map[string][]float32{
		"first":  {1, 0, 0},
		"second": {1, 0, 0},
	}}
	ix, err := Build(context.Background(), docsFor("first", "second"), emb, nil)
	require.NoError(t, err)

	results := ix.Search([]float32{1, 0, 0}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Document.Content)
	assert.Equal(t, "second", results[1].Document.Content)
}

func TestSearchTopKClampedToSize(t *testing.T) {
	emb := &stubEmbedder{vecs: map[string][]float32{"only": {1, 0, 0}}}
	ix, err := Build(context.Background(), docsFor("only"), emb, nil)
	require.NoError(t, err)

	results := ix.Search([]float32{1, 0, 0}, 10)
	assert.Len(t, results, 1)
}

func TestEmptyIndexReturnsPlaceholder(t *testing.T) {
	ix := Empty("stub")
	results := ix.Search([]float32{1, 0, 0}, 5)
	require.Len(t, results, 1)
	assert.Equal(t, PlaceholderContent, results[0].Document.Content)
	assert.Equal(t, "System Notice", results[0].Document.Metadata.DocumentType)
	assert.Zero(t, results[0].Score)
}

func TestBuildFailsOnEmbedderError(t *testing.T) {
	emb := &stubEmbedder{fail: true}
	_, err := Build(context.Background(), docsFor("a", "b"), emb, nil)
	require.Error(t, err)
}

func TestPersistLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	emb := &stubEmbedder{vecs: map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
	}}
	files := map[string]string{"/data/lbo.pdf": "abc123"}
	ix, err := Build(context.Background(), docsFor("alpha", "beta"), emb, files)
	require.NoError(t, err)
	require.NoError(t, ix.Persist(dir))

	for _, name := range []string{DocumentsFile, VectorsFile, ProvenanceFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ix.Len(), loaded.Len())
	assert.Equal(t, ix.Dimension(), loaded.Dimension())
	assert.Equal(t, "stub", loaded.Provenance().ModelName)
	assert.Equal(t, files, loaded.Provenance().Files)
	assert.Equal(t, ix.Documents()[0].Content, loaded.Documents()[0].Content)

	before := ix.Search([]float32{0.7, 0.7, 0}, 2)
	after := loaded.Search([]float32{0.7, 0.7, 0}, 2)
	require.Len(t, after, 2)
	assert.Equal(t, before[0].Document.Content, after[0].Document.Content)
	assert.InDelta(t, before[0].Score, after[0].Score, 1e-6)
}

func TestLoadMissingArtifactIsCorrupt(t *testing.T) {
	_, err := Load(t.TempDir())
	require.ErrorIs(t, err, ErrCacheCorrupt)
}

func TestLoadTruncatedMatrixIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	emb := &stubEmbedder{vecs: map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
	}}
	ix, err := Build(context.Background(), docsFor("alpha", "beta"), emb, nil)
	require.NoError(t, err)
	require.NoError(t, ix.Persist(dir))

	path := filepath.Join(dir, VectorsFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0o644))

	_, err = Load(dir)
	require.ErrorIs(t, err, ErrCacheCorrupt)
}

func TestLoadOversizedMatrixHeaderIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	emb := &stubEmbedder{vecs: map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
	}}
	ix, err := Build(context.Background(), docsFor("alpha", "beta"), emb, nil)
	require.NoError(t, err)
	require.NoError(t, ix.Persist(dir))

	// Keep the real payload but claim absurd row and column counts in
	// the header. Load must reject it without trying to allocate a
	// matrix of that size.
	path := filepath.Join(dir, VectorsFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var buf bytes.Buffer
	buf.Write(vectorsMagic[:])
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []uint32{1 << 30, 1 << 30}))
	buf.Write(data[12:])
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err = Load(dir)
	require.ErrorIs(t, err, ErrCacheCorrupt)
}

func TestLoadRowCountMismatchIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	emb := &stubEmbedder{vecs: map[string][]float32{"alpha": {1, 0, 0}}}
	ix, err := Build(context.Background(), docsFor("alpha"), emb, nil)
	require.NoError(t, err)
	require.NoError(t, ix.Persist(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, DocumentsFile), []byte("[]"), 0o644))

	_, err = Load(dir)
	require.ErrorIs(t, err, ErrCacheCorrupt)
}

func TestLoadGarbageDocumentsIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	emb := &stubEmbedder{vecs: map[string][]float32{"alpha": {1, 0, 0}}}
	ix, err := Build(context.Background(), docsFor("alpha"), emb, nil)
	require.NoError(t, err)
	require.NoError(t, ix.Persist(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, DocumentsFile), []byte("{not json"), 0o644))

	_, err = Load(dir)
	require.ErrorIs(t, err, ErrCacheCorrupt)
}
