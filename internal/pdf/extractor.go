// Package pdf extracts page text from PDF documents via MuPDF.
package pdf

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"

	"baureg-search/internal/domain"
)

// Extractor reads PDF files page by page.
type Extractor struct{}

// NewExtractor creates a PDF text extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Extract returns the non-empty pages of the document in order. Page
// numbers are 1-based. Pages whose text cannot be read are skipped.
func (e *Extractor) Extract(path string) ([]domain.Page, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer doc.Close()

	var pages []domain.Page
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: text})
	}
	return pages, nil
}
