// Package service wires chunking, metadata extraction, the embedding
// index and the cache manager into the retrieval service consumed by
// the API and TUI layers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"baureg-search/internal/cache"
	"baureg-search/internal/chunker"
	"baureg-search/internal/domain"
	"baureg-search/internal/fingerprint"
	"baureg-search/internal/index"
	"baureg-search/internal/metadata"
	"baureg-search/internal/retrieval"
)

// Lifecycle states. There is no terminal error state: failed loads and
// builds fall back to an empty but ready index so the service stays
// queryable.
const (
	StateUninitialized = "uninitialized"
	StateValidating    = "validating"
	StateLoading       = "loading"
	StateBuilding      = "building"
	StateReady         = "ready"
	StateReadyEmpty    = "ready-empty"
)

// ErrBuildInProgress is returned when a reindex is requested while
// another build is still running.
var ErrBuildInProgress = errors.New("index build already in progress")

// summarySampleDocs caps how many chunks feed the corpus summary.
const summarySampleDocs = 100

// Options carries the non-dependency knobs of the service.
type Options struct {
	DataDir             string
	ContextTopK         int
	SummaryMaxSentences int
}

// snapshot pairs an index with the embedder it was built with. The two
// are swapped together: a query must be embedded in the same vector
// space as the matrix it is scored against.
type snapshot struct {
	ix  *index.Index
	emb domain.Embedder
}

// RAGServiceImpl owns the index lifecycle and all mutable state;
// multiple isolated instances can coexist in one process.
type RAGServiceImpl struct {
	opts        Options
	chunker     domain.Chunker
	newEmbedder func() domain.Embedder
	extractor   domain.TextExtractor
	meta        *metadata.Extractor
	summ        domain.Summarizer
	cache       *cache.Manager
	engine      *retrieval.Engine

	current atomic.Pointer[snapshot]
	state   atomic.Value

	mu       sync.Mutex
	building bool
	summary  string
}

var _ domain.RAGService = (*RAGServiceImpl)(nil)

// NewRAGService assembles the service. newEmbedder is called once per
// build so each index gets its own embedder instance; corpus-fitted
// embedders (TF-IDF) are never refit while still serving queries. The
// chunker defaults to the sentence chunker when nil.
func NewRAGService(opts Options, ch domain.Chunker, newEmbedder func() domain.Embedder, ex domain.TextExtractor, sum domain.Summarizer, cm *cache.Manager) *RAGServiceImpl {
	if ch == nil {
		ch = chunker.NewSentenceChunker(400, 50, 50)
	}
	s := &RAGServiceImpl{
		opts:        opts,
		chunker:     ch,
		newEmbedder: newEmbedder,
		extractor:   ex,
		meta:        metadata.NewExtractor(),
		summ:        sum,
		cache:       cm,
	}
	s.state.Store(StateUninitialized)
	s.engine = retrieval.NewEngine(func() (*index.Index, domain.Embedder) {
		snap := s.current.Load()
		if snap == nil {
			return nil, nil
		}
		return snap.ix, snap.emb
	}, opts.ContextTopK)
	return s
}

// State returns the current lifecycle state.
func (s *RAGServiceImpl) State() string { return s.state.Load().(string) }

func (s *RAGServiceImpl) ready() bool {
	st := s.State()
	return st == StateReady || st == StateReadyEmpty
}

// Initialize validates the cache against the current source files and
// either loads the persisted index or builds a new one. It never fails
// hard: on any build or load problem the service ends up ready with an
// empty index.
func (s *RAGServiceImpl) Initialize(ctx context.Context) error {
	s.state.Store(StateValidating)
	sources := s.discoverSources()

	if s.cache.IsValid(sources) {
		s.state.Store(StateLoading)
		ix, err := index.Load(s.cache.Dir())
		var emb domain.Embedder
		if err == nil {
			emb = s.newEmbedder()
			err = prepareFromDocs(emb, ix.Documents())
		}
		if err == nil {
			s.install(ix, emb)
			return nil
		}
		log.Printf("cache load failed, rebuilding: %v", err)
	}
	if err := s.build(ctx, sources); err != nil {
		log.Printf("index build failed: %v", err)
		if s.current.Load() == nil {
			emb := s.newEmbedder()
			s.install(index.Empty(emb.Name()), emb)
		}
	}
	return nil
}

// Reindex rebuilds the whole index from the current source files. The
// served index and the persisted artifacts both stay untouched until
// the new build completes: the snapshot is swapped in memory and the
// artifacts are replaced atomically by Persist. Concurrent reindex
// requests are rejected.
func (s *RAGServiceImpl) Reindex(ctx context.Context) error {
	return s.build(ctx, s.discoverSources())
}

// Search delegates to the retrieval engine over the current snapshot.
func (s *RAGServiceImpl) Search(ctx context.Context, query string, topK int, filters domain.Filters) ([]domain.SearchResult, error) {
	return s.engine.Search(ctx, query, topK, filters)
}

// ContextForQuery delegates to the retrieval engine.
func (s *RAGServiceImpl) ContextForQuery(ctx context.Context, query string, maxChars int, includeCitations bool) (string, error) {
	return s.engine.ContextForQuery(ctx, query, maxChars, includeCitations)
}

// Stats reports readiness and index contents.
func (s *RAGServiceImpl) Stats() domain.Stats {
	snap := s.current.Load()
	st := domain.Stats{State: s.State(), Ready: s.ready()}
	if snap == nil {
		return st
	}
	prov := snap.ix.Provenance()
	st.DocumentCount = snap.ix.Len()
	st.EmbeddingDim = prov.EmbeddingDim
	for path := range prov.Files {
		st.Sources = append(st.Sources, filepath.Base(path))
	}
	sort.Strings(st.Sources)
	s.mu.Lock()
	st.Summary = s.summary
	s.mu.Unlock()
	return st
}

// build processes every source file into chunk documents, fits a fresh
// embedder, encodes the documents and atomically swaps the new snapshot
// in. At most one build runs at a time; a failed build leaves the
// previously served snapshot and the persisted artifacts untouched.
func (s *RAGServiceImpl) build(ctx context.Context, sources []domain.SourceFile) error {
	s.mu.Lock()
	if s.building {
		s.mu.Unlock()
		return ErrBuildInProgress
	}
	s.building = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.building = false
		s.mu.Unlock()
	}()

	prev := s.State()
	s.state.Store(StateBuilding)
	docs, files := s.processSources(sources)
	emb := s.newEmbedder()
	if len(docs) == 0 {
		log.Printf("no source documents found under %s", s.opts.DataDir)
		s.install(index.Empty(emb.Name()), emb)
		return nil
	}

	corpus := make([]string, len(docs))
	for i, d := range docs {
		corpus[i] = d.Content
	}
	if err := emb.Prepare(corpus); err != nil {
		s.state.Store(prev)
		return fmt.Errorf("prepare embedder: %w", err)
	}
	ix, err := index.Build(ctx, docs, emb, files)
	if err != nil {
		s.state.Store(prev)
		return err
	}
	if err := ix.Persist(s.cache.Dir()); err != nil {
		log.Printf("persist index cache: %v", err)
	}
	s.install(ix, emb)
	log.Printf("index built with %d chunks from %d files", ix.Len(), len(files))
	return nil
}

// install swaps the served snapshot and refreshes the corpus summary.
func (s *RAGServiceImpl) install(ix *index.Index, emb domain.Embedder) {
	s.current.Store(&snapshot{ix: ix, emb: emb})
	if ix.Len() == 0 {
		s.state.Store(StateReadyEmpty)
		s.setSummary("")
		return
	}
	s.state.Store(StateReady)
	docs := ix.Documents()
	n := len(docs)
	if n > summarySampleDocs {
		n = summarySampleDocs
	}
	var b strings.Builder
	for _, d := range docs[:n] {
		b.WriteString(d.Content)
		b.WriteString(" ")
	}
	summary := ""
	if s.summ != nil {
		if out, err := s.summ.Summarize(b.String(), s.opts.SummaryMaxSentences); err == nil {
			summary = out
		}
	}
	s.setSummary(summary)
}

func (s *RAGServiceImpl) setSummary(v string) {
	s.mu.Lock()
	s.summary = v
	s.mu.Unlock()
}

// prepareFromDocs fits corpus-dependent embedders (TF-IDF) from loaded
// documents; remote embedders treat this as a no-op.
func prepareFromDocs(emb domain.Embedder, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	corpus := make([]string, len(docs))
	for i, d := range docs {
		corpus[i] = d.Content
	}
	return emb.Prepare(corpus)
}

// discoverSources walks the data directory for PDF files, removes
// duplicates keyed on base name and size, and fingerprints each file.
// Unreadable files keep an empty fingerprint, which the cache manager
// treats as invalid.
func (s *RAGServiceImpl) discoverSources() []domain.SourceFile {
	type key struct {
		name string
		size int64
	}
	seen := map[key]struct{}{}
	var sources []domain.SourceFile
	err := filepath.WalkDir(s.opts.DataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		k := key{filepath.Base(path), info.Size()}
		if _, ok := seen[k]; ok {
			return nil
		}
		seen[k] = struct{}{}
		fp, err := fingerprint.File(path)
		if err != nil {
			log.Printf("fingerprint %s: %v", path, err)
			fp = ""
		}
		sources = append(sources, domain.SourceFile{Path: path, Size: info.Size(), Fingerprint: fp})
		return nil
	})
	if err != nil {
		log.Printf("walk %s: %v", s.opts.DataDir, err)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources
}

// processSources extracts, chunks and annotates every source file.
// Files that fail extraction are skipped so one broken PDF cannot sink
// the whole build.
func (s *RAGServiceImpl) processSources(sources []domain.SourceFile) ([]domain.Document, map[string]string) {
	var docs []domain.Document
	files := map[string]string{}
	for _, src := range sources {
		pages, err := s.extractor.Extract(src.Path)
		if err != nil {
			log.Printf("extract %s: %v", src.Path, err)
			continue
		}
		base := filepath.Base(src.Path)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		category := filepath.Base(filepath.Dir(src.Path))
		for _, page := range pages {
			for i, chunk := range s.chunker.Split(page.Text) {
				meta := s.meta.Extract(base, category, chunk, page.Number)
				doc := domain.Document{
					Content:    chunk,
					Metadata:   meta,
					Source:     fmt.Sprintf("%s, Page %d, Section %d", base, page.Number, i+1),
					DocumentID: fmt.Sprintf("%s_p%d_c%d", stem, page.Number, i),
				}
				doc.Citation = doc.DetailedCitation()
				docs = append(docs, doc)
			}
		}
		files[src.Path] = src.Fingerprint
	}
	return docs, files
}
