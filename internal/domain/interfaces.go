package domain

import (
	"context"
	"strconv"
	"strings"
)

// SourceFile is a regulation document discovered on disk.
type SourceFile struct {
	Path        string
	Size        int64
	Fingerprint string
}

// DistrictRule pairs an administrative district with the sentence that
// mentions it.
type DistrictRule struct {
	District string `json:"district"`
	Rule     string `json:"rule"`
}

// ChunkMetadata holds the structured facts extracted from a chunk of
// regulation text. Created alongside the chunk, immutable afterwards.
type ChunkMetadata struct {
	DocumentName    string         `json:"document_name"`
	Category        string         `json:"category"`
	DocumentType    string         `json:"document_type"`
	PageNumber      int            `json:"page_number"`
	Sections        []string       `json:"sections,omitempty"`
	LegalReferences []string       `json:"legal_references,omitempty"`
	FormNumbers     []string       `json:"form_numbers,omitempty"`
	OfficialIDs     []string       `json:"official_ids,omitempty"`
	Districts       []string       `json:"districts,omitempty"`
	DistrictRules   []DistrictRule `json:"district_rules,omitempty"`
}

// Document is one retrievable chunk together with its metadata, as
// persisted in the index cache.
type Document struct {
	Content    string        `json:"content"`
	Metadata   ChunkMetadata `json:"metadata"`
	Source     string        `json:"source"`
	Citation   string        `json:"citation"`
	DocumentID string        `json:"document_id"`
}

// DetailedCitation synthesizes a human-readable reference from the
// document's metadata: type and name, page, up to three sections, two
// form numbers and two official IDs.
func (d Document) DetailedCitation() string {
	m := d.Metadata
	docType := m.DocumentType
	if docType == "" {
		docType = "Document"
	}
	docName := m.DocumentName
	if docName == "" {
		docName = "Unknown"
	}
	parts := []string{docType + ": " + docName}
	if m.PageNumber > 0 {
		parts = append(parts, "Page "+strconv.Itoa(m.PageNumber))
	}
	if len(m.Sections) > 0 {
		parts = append(parts, "Section(s): "+strings.Join(head(m.Sections, 3), ", "))
	}
	if len(m.FormNumbers) > 0 {
		parts = append(parts, "Form(s): "+strings.Join(head(m.FormNumbers, 2), ", "))
	}
	if len(m.OfficialIDs) > 0 {
		parts = append(parts, "ID(s): "+strings.Join(head(m.OfficialIDs, 2), ", "))
	}
	return strings.Join(parts, " | ")
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// SearchResult is a transient per-query value: a matching document plus
// its similarity score.
type SearchResult struct {
	Document Document
	Score    float64
}

// Page is one page of extracted document text. Unreadable pages may
// carry empty text.
type Page struct {
	Number int
	Text   string
}

// Filters narrow a search to a district and/or a document-type substring.
type Filters struct {
	District     string
	DocumentType string
}

// Embedder converts free text into fixed-dimension numeric vectors.
// The same model must be used at index build and query time.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits raw document text into bounded, overlap-aware segments.
type Chunker interface {
	Split(text string) []string
}

// TextExtractor yields the ordered pages of a source document.
type TextExtractor interface {
	Extract(path string) ([]Page, error)
}

// Completer is the hosted chat-completion capability consumed by the
// question-answering endpoint.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// Stats describes the current readiness and contents of the index.
type Stats struct {
	DocumentCount int      `json:"document_count"`
	EmbeddingDim  int      `json:"embedding_dimension"`
	Ready         bool     `json:"ready"`
	State         string   `json:"state"`
	Sources       []string `json:"sources"`
	Summary       string   `json:"summary,omitempty"`
}

// RAGService defines the operations exposed by the application core.
type RAGService interface {
	Initialize(ctx context.Context) error
	Search(ctx context.Context, query string, topK int, filters Filters) ([]SearchResult, error)
	ContextForQuery(ctx context.Context, query string, maxChars int, includeCitations bool) (string, error)
	Reindex(ctx context.Context) error
	Stats() Stats
}
