// Package cache validates the persisted embedding index against the
// current source files and decides rebuild versus reuse.
package cache

import (
	"os"
	"path/filepath"

	"baureg-search/internal/domain"
	"baureg-search/internal/index"
)

// Manager checks and clears the on-disk index cache.
type Manager struct {
	dir string
}

// NewManager creates a cache manager for the given cache directory.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Dir returns the cache directory.
func (m *Manager) Dir() string { return m.dir }

// IsValid reports whether the persisted cache can serve the given
// source files: all three artifacts exist, the file count matches the
// provenance, and every fingerprint matches per path. Any read or parse
// problem counts as invalid, never as a fatal error, so the caller
// degrades to a full rebuild.
func (m *Manager) IsValid(sources []domain.SourceFile) bool {
	for _, name := range []string{index.DocumentsFile, index.VectorsFile, index.ProvenanceFile} {
		if _, err := os.Stat(filepath.Join(m.dir, name)); err != nil {
			return false
		}
	}
	prov, err := index.LoadProvenance(m.dir)
	if err != nil {
		return false
	}
	if len(sources) != len(prov.Files) {
		return false
	}
	for _, src := range sources {
		if src.Fingerprint == "" {
			return false
		}
		if prov.Files[src.Path] != src.Fingerprint {
			return false
		}
	}
	return true
}

// Invalidate deletes the three cache artifacts so the next build starts
// clean. Missing artifacts are not an error.
func (m *Manager) Invalidate() error {
	var firstErr error
	for _, name := range []string{index.DocumentsFile, index.VectorsFile, index.ProvenanceFile} {
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
