package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baureg-search/internal/domain"
	"baureg-search/internal/index"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Name() string                  { return "fixed" }
func (fixedEmbedder) Prepare(corpus []string) error { return nil }
func (fixedEmbedder) Dimension() int                { return 2 }

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func (f fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, _ := f.Embed(ctx, t)
		out = append(out, v)
	}
	return out, nil
}

func persistIndex(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	docs := []domain.Document{{Content: "setback rules", DocumentID: "d0"}}
	ix, err := index.Build(context.Background(), docs, fixedEmbedder{}, files)
	require.NoError(t, err)
	require.NoError(t, ix.Persist(dir))
}

func TestIsValidAfterPersist(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"/data/lbo.pdf":    "hash-a",
		"/data/antrag.pdf": "hash-b",
	}
	persistIndex(t, dir, files)

	m := NewManager(dir)
	sources := []domain.SourceFile{
		{Path: "/data/lbo.pdf", Fingerprint: "hash-a"},
		{Path: "/data/antrag.pdf", Fingerprint: "hash-b"},
	}
	assert.True(t, m.IsValid(sources))
}

func TestIsValidFalseWhenEmpty(t *testing.T) {
	m := NewManager(t.TempDir())
	assert.False(t, m.IsValid([]domain.SourceFile{{Path: "/data/lbo.pdf", Fingerprint: "hash-a"}}))
}

func TestIsValidFalseOnChangedFingerprint(t *testing.T) {
	dir := t.TempDir()
	persistIndex(t, dir, map[string]string{"/data/lbo.pdf": "hash-a"})

	m := NewManager(dir)
	assert.False(t, m.IsValid([]domain.SourceFile{{Path: "/data/lbo.pdf", Fingerprint: "hash-changed"}}))
}

func TestIsValidFalseOnAddedOrRemovedFile(t *testing.T) {
	dir := t.TempDir()
	persistIndex(t, dir, map[string]string{"/data/lbo.pdf": "hash-a"})

	m := NewManager(dir)
	added := []domain.SourceFile{
		{Path: "/data/lbo.pdf", Fingerprint: "hash-a"},
		{Path: "/data/new.pdf", Fingerprint: "hash-b"},
	}
	assert.False(t, m.IsValid(added))
	assert.False(t, m.IsValid(nil))
}

func TestIsValidFalseOnEmptyFingerprint(t *testing.T) {
	dir := t.TempDir()
	persistIndex(t, dir, map[string]string{"/data/lbo.pdf": ""})

	m := NewManager(dir)
	assert.False(t, m.IsValid([]domain.SourceFile{{Path: "/data/lbo.pdf", Fingerprint: ""}}))
}

func TestIsValidFalseOnMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	persistIndex(t, dir, map[string]string{"/data/lbo.pdf": "hash-a"})
	require.NoError(t, os.Remove(filepath.Join(dir, index.VectorsFile)))

	m := NewManager(dir)
	assert.False(t, m.IsValid([]domain.SourceFile{{Path: "/data/lbo.pdf", Fingerprint: "hash-a"}}))
}

func TestInvalidateRemovesArtifacts(t *testing.T) {
	dir := t.TempDir()
	persistIndex(t, dir, map[string]string{"/data/lbo.pdf": "hash-a"})

	m := NewManager(dir)
	require.NoError(t, m.Invalidate())
	for _, name := range []string{index.DocumentsFile, index.VectorsFile, index.ProvenanceFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}

	// idempotent on an already clean directory
	require.NoError(t, m.Invalidate())
}
