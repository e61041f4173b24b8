package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"baureg-search/internal/domain"
)

// The three co-located cache artifacts.
const (
	DocumentsFile  = "documents.json"
	VectorsFile    = "embeddings.bin"
	ProvenanceFile = "provenance.json"
)

// ErrCacheCorrupt marks a cache that is missing, unparseable or
// internally inconsistent. Callers treat it as cache-invalid and
// rebuild; it is never surfaced to queries.
var ErrCacheCorrupt = errors.New("index cache missing or corrupt")

var vectorsMagic = [4]byte{'B', 'R', 'V', '1'}

// Persist writes the three cache artifacts to dir. Each artifact is
// written to a temporary path first and renamed into place only after
// all three succeeded, so a reader never observes a partially updated
// artifact set.
func (ix *Index) Persist(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	docsData, err := json.MarshalIndent(ix.docs, "", "  ")
	if err != nil {
		return err
	}
	provData, err := json.MarshalIndent(ix.provenance, "", "  ")
	if err != nil {
		return err
	}
	vecData, err := encodeVectors(ix.vectors, ix.provenance.EmbeddingDim)
	if err != nil {
		return err
	}

	staged := []struct {
		name string
		data []byte
	}{
		{DocumentsFile, docsData},
		{VectorsFile, vecData},
		{ProvenanceFile, provData},
	}
	var tmps []string
	cleanup := func() {
		for _, t := range tmps {
			_ = os.Remove(t)
		}
	}
	for _, s := range staged {
		tmp := filepath.Join(dir, s.name+".tmp")
		if err := os.WriteFile(tmp, s.data, 0o644); err != nil {
			cleanup()
			return fmt.Errorf("stage %s: %w", s.name, err)
		}
		tmps = append(tmps, tmp)
	}
	for i, s := range staged {
		if err := os.Rename(tmps[i], filepath.Join(dir, s.name)); err != nil {
			cleanup()
			return fmt.Errorf("commit %s: %w", s.name, err)
		}
	}
	return nil
}

// Load reads the three artifacts back from dir. Any missing or
// unparseable artifact, or a row count disagreeing with the document
// collection, yields ErrCacheCorrupt.
func Load(dir string) (*Index, error) {
	docsData, err := os.ReadFile(filepath.Join(dir, DocumentsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	var docs []domain.Document
	if err := json.Unmarshal(docsData, &docs); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCacheCorrupt, DocumentsFile, err)
	}

	prov, err := LoadProvenance(dir)
	if err != nil {
		return nil, err
	}

	vectors, dim, err := decodeVectorsFile(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("%w: %d vectors for %d documents", ErrCacheCorrupt, len(vectors), len(docs))
	}
	if prov.EmbeddingDim != 0 && dim != 0 && prov.EmbeddingDim != dim {
		return nil, fmt.Errorf("%w: matrix dimension %d disagrees with provenance %d", ErrCacheCorrupt, dim, prov.EmbeddingDim)
	}
	return &Index{docs: docs, vectors: vectors, provenance: prov}, nil
}

// LoadProvenance reads only the provenance artifact.
func LoadProvenance(dir string) (Provenance, error) {
	var prov Provenance
	data, err := os.ReadFile(filepath.Join(dir, ProvenanceFile))
	if err != nil {
		return prov, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	if err := json.Unmarshal(data, &prov); err != nil {
		return prov, fmt.Errorf("%w: parse %s: %v", ErrCacheCorrupt, ProvenanceFile, err)
	}
	return prov, nil
}

// encodeVectors serializes the matrix as magic, uint32 row and column
// counts, then row-major little-endian float32 values.
func encodeVectors(vectors [][]float32, dim int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(vectorsMagic[:])
	hdr := []uint32{uint32(len(vectors)), uint32(dim)}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	for i, row := range vectors {
		if len(row) != dim {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), dim)
		}
		if err := binary.Write(&buf, binary.LittleEndian, row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeVectorsFile(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != vectorsMagic {
		return nil, 0, fmt.Errorf("%w: bad vector matrix header", ErrCacheCorrupt)
	}
	var hdr [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, 0, fmt.Errorf("%w: bad vector matrix header", ErrCacheCorrupt)
	}
	rows, cols := int(hdr[0]), int(hdr[1])
	if err := checkMatrixSize(info.Size(), rows, cols); err != nil {
		return nil, 0, err
	}
	vectors := make([][]float32, rows)
	for i := range vectors {
		row := make([]float32, cols)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, 0, fmt.Errorf("%w: truncated vector matrix", ErrCacheCorrupt)
		}
		vectors[i] = row
	}
	return vectors, cols, nil
}

// checkMatrixSize verifies the header's row and column counts against
// the file size before anything is allocated, so a corrupt header
// cannot drive an oversized allocation. Division instead of
// multiplication keeps the check overflow-free.
func checkMatrixSize(fileSize int64, rows, cols int) error {
	headerSize := int64(len(vectorsMagic)) + 8
	payload := fileSize - headerSize
	if payload < 0 || payload%4 != 0 {
		return fmt.Errorf("%w: vector matrix size %d does not fit header", ErrCacheCorrupt, fileSize)
	}
	words := payload / 4
	if rows == 0 {
		if words != 0 {
			return fmt.Errorf("%w: vector matrix claims 0 rows but carries data", ErrCacheCorrupt)
		}
		return nil
	}
	if words%int64(rows) != 0 || words/int64(rows) != int64(cols) {
		return fmt.Errorf("%w: vector matrix size %d disagrees with %dx%d header", ErrCacheCorrupt, fileSize, rows, cols)
	}
	return nil
}
