// Package retrieval performs query embedding, similarity ranking,
// metadata filtering and context assembly for downstream prompting.
package retrieval

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"baureg-search/internal/domain"
	"baureg-search/internal/index"
)

// NoResultsMessage is returned by ContextForQuery when nothing relevant
// was found.
const NoResultsMessage = "No relevant Stuttgart building regulation documents found for this query."

// perResultCap bounds how much of one chunk goes into the assembled
// context block.
const perResultCap = 1500

// Engine runs searches against the current index snapshot.
type Engine struct {
	snapshot    func() (*index.Index, domain.Embedder)
	contextTopK int
}

// NewEngine creates a retrieval engine. snapshot must return the
// current index together with the embedder it was built with, so each
// query is embedded in the same vector space as the matrix it is
// scored against; it is consulted per query so reindexing swaps in
// transparently. contextTopK bounds how many results feed the context
// block (default 4).
func NewEngine(snapshot func() (*index.Index, domain.Embedder), contextTopK int) *Engine {
	if contextTopK <= 0 {
		contextTopK = 4
	}
	return &Engine{snapshot: snapshot, contextTopK: contextTopK}
}

// Search embeds the query, asks the index for topK*2 candidates to
// leave headroom for filtering, applies the filters in score order and
// truncates to topK. Query-encode failures degrade to a lexical
// token-overlap ranking rather than failing the request.
func (e *Engine) Search(ctx context.Context, query string, topK int, filters domain.Filters) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	ix, emb := e.snapshot()
	if ix == nil || ix.Len() == 0 {
		return index.Empty("").Search(nil, 1), nil
	}

	var candidates []domain.SearchResult
	var vec []float32
	var err error
	if emb != nil {
		vec, err = emb.Embed(ctx, query)
	}
	if emb == nil || err != nil || isZero(vec) {
		candidates = e.lexicalSearch(ix, query, topK*2)
	} else {
		candidates = ix.Search(vec, topK*2)
	}

	results := make([]domain.SearchResult, 0, topK)
	for _, r := range candidates {
		if len(results) == topK {
			break
		}
		if !matchesFilters(r.Document.Metadata, filters) {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

// ContextForQuery assembles the citation-annotated context block handed
// to the completion model, staying within maxChars.
func (e *Engine) ContextForQuery(ctx context.Context, query string, maxChars int, includeCitations bool) (string, error) {
	if maxChars <= 0 {
		maxChars = 2000
	}
	results, err := e.Search(ctx, query, e.contextTopK, domain.Filters{})
	if err != nil {
		return NoResultsMessage, nil
	}
	if len(results) == 0 {
		return NoResultsMessage, nil
	}

	var parts []string
	total := 0
	for i, r := range results {
		block := formatResult(i, r, includeCitations)
		if total+len(block) > maxChars {
			break
		}
		parts = append(parts, block)
		total += len(block)
	}
	if len(parts) == 0 {
		return NoResultsMessage, nil
	}
	sep := "\n\n" + strings.Repeat("=", 50) + "\n\n"
	return strings.Join(parts, sep), nil
}

func formatResult(i int, r domain.SearchResult, includeCitations bool) string {
	content := r.Document.Content
	if len(content) > perResultCap {
		content = content[:perResultCap]
	}
	if !includeCitations {
		return content
	}
	citation := r.Document.Citation
	if citation == "" {
		citation = r.Document.DetailedCitation()
	}
	var b strings.Builder
	b.WriteString("[Source " + strconv.Itoa(i+1) + "] " + citation)
	b.WriteString("\n\nContent: " + content)

	m := r.Document.Metadata
	if len(m.Districts) > 0 {
		b.WriteString("\n\nDistrict(s): " + strings.Join(m.Districts, ", "))
	}
	rules := m.DistrictRules
	if len(rules) > 2 {
		rules = rules[:2]
	}
	for _, rule := range rules {
		b.WriteString("\n• " + rule.District + ": " + rule.Rule)
	}
	return b.String()
}

func matchesFilters(m domain.ChunkMetadata, f domain.Filters) bool {
	if f.District != "" {
		found := false
		for _, d := range m.Districts {
			if d == f.District {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DocumentType != "" {
		if !strings.Contains(strings.ToLower(m.DocumentType), strings.ToLower(f.DocumentType)) {
			return false
		}
	}
	return true
}

var wordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

// lexicalSearch ranks documents by Ochiai token overlap with the query.
// It backs up vector search when the query cannot be embedded.
func (e *Engine) lexicalSearch(ix *index.Index, query string, topK int) []domain.SearchResult {
	docs := ix.Documents()
	qset := tokenSet(query)
	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(docs))
	for i, d := range docs {
		scores[i] = pair{i, ochiai(qset, d.Content)}
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
	out := make([]domain.SearchResult, 0, topK)
	for _, p := range scores[:topK] {
		out = append(out, domain.SearchResult{Document: docs[p.idx], Score: p.score})
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// ochiai computes |A∩B| / sqrt(|A||B|) over unique tokens.
func ochiai(qset map[string]struct{}, text string) float64 {
	toks := wordRe.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(toks))
	inter := 0
	for _, t := range toks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	if len(qset) == 0 || len(seen) == 0 {
		return 0
	}
	return float64(inter) / (math.Sqrt(float64(len(qset))) * math.Sqrt(float64(len(seen))))
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
