// Package metadata derives structured attributes from regulation text:
// document classification, legal section references, form numbers,
// official identifiers and Stuttgart district mentions.
package metadata

import (
	"regexp"
	"strings"

	"baureg-search/internal/domain"
)

// Districts is the fixed list of administrative districts matched in
// chunk text.
var Districts = []string{
	"Zuffenhausen", "Feuerbach", "Weilimdorf", "Kornthal-Münchingen",
	"Stammheim", "Mühlhausen", "Freiberg", "Mönchfeld",
	"Bad Cannstatt", "Sommerrain", "Steinhaldenfeld",
}

var (
	sectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)§\s*(\d+[a-z]?)`),
		regexp.MustCompile(`(?i)Article\s+(\d+)`),
		regexp.MustCompile(`(?i)Section\s+(\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?i)Abschnitt\s+(\d+)`),
		regexp.MustCompile(`(?i)Artikel\s+(\d+)`),
	}

	legalPatterns = []struct {
		label string
		re    *regexp.Regexp
	}{
		{"LBO", regexp.MustCompile(`(?i)LBO\s+BW\s*§?\s*(\d+)`)},
		{"BauGB", regexp.MustCompile(`(?i)BauGB\s*§?\s*(\d+)`)},
		{"DIN", regexp.MustCompile(`(?i)DIN\s+(\d+(?:-\d+)?)`)},
		{"EnEV", regexp.MustCompile(`(?i)EnEV\s*§?\s*(\d+)`)},
		{"LBO", regexp.MustCompile(`(?i)nach\s*§?\s*(\d+)\s+LBO`)},
		{"§", regexp.MustCompile(`(?i)gemäß\s*§?\s*(\d+)`)},
	}

	formPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Formular\s+([A-Z0-9-]+)`),
		regexp.MustCompile(`(?i)Form\s+([A-Z0-9-]+)`),
		regexp.MustCompile(`(?i)Antrag\s+([A-Z0-9-]+)`),
		regexp.MustCompile(`(?i)Nr\.\s*([A-Z0-9-]+)`),
		regexp.MustCompile(`(?i)Nummer\s+([A-Z0-9-]+)`),
	}

	idPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Aktenzeichen\s+([A-Z0-9/-]+)`),
		regexp.MustCompile(`(?i)Az\.\s*([A-Z0-9/-]+)`),
		regexp.MustCompile(`(?i)Geschäftszeichen\s+([A-Z0-9/-]+)`),
		regexp.MustCompile(`(?i)GZ\s+([A-Z0-9/-]+)`),
	}
)

// Extractor pattern-matches chunk text. All extractions are best
// effort: absent patterns yield empty collections, never errors.
type Extractor struct{}

// NewExtractor creates a metadata extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Extract builds the metadata record for one chunk. fileName is the
// source document base name, category its subdirectory, pageNumber is
// 1-based.
func (e *Extractor) Extract(fileName, category, chunk string, pageNumber int) domain.ChunkMetadata {
	districts, rules := extractDistricts(chunk)
	return domain.ChunkMetadata{
		DocumentName:    trimExt(fileName),
		Category:        category,
		DocumentType:    IdentifyDocumentType(fileName, chunk),
		PageNumber:      pageNumber,
		Sections:        extractSections(chunk),
		LegalReferences: extractLegalReferences(chunk),
		FormNumbers:     matchAll(formPatterns, chunk),
		OfficialIDs:     matchAll(idPatterns, chunk),
		Districts:       districts,
		DistrictRules:   rules,
	}
}

// IdentifyDocumentType classifies a document from filename keywords
// first, content keywords second; the default is "Municipal Document".
func IdentifyDocumentType(fileName, text string) string {
	name := strings.ToLower(fileName)
	switch {
	case containsAny(name, "bauordnung", "lbo", "building_code"):
		return "Building Code (LBO)"
	case containsAny(name, "baugb", "building_law"):
		return "Federal Building Law (BauGB)"
	case containsAny(name, "bebauungsplan", "zoning"):
		return "Zoning Plan"
	case containsAny(name, "energieeinspar", "energy"):
		return "Energy Efficiency Regulation"
	case containsAny(name, "antrag", "form", "application"):
		return "Application Form"
	}
	if containsAny(strings.ToLower(text), "paragraph", "§", "article") {
		return "Legal Regulation"
	}
	return "Municipal Document"
}

func extractSections(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, re := range sectionPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			s := "§" + m[1]
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func extractLegalReferences(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, p := range legalPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			ref := p.label + " " + m[1]
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	}
	return out
}

func matchAll(patterns []*regexp.Regexp, text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if _, ok := seen[m[1]]; ok {
				continue
			}
			seen[m[1]] = struct{}{}
			out = append(out, m[1])
		}
	}
	return out
}

func extractDistricts(text string) ([]string, []domain.DistrictRule) {
	lower := strings.ToLower(text)
	var districts []string
	var rules []domain.DistrictRule
	for _, d := range Districts {
		if !strings.Contains(lower, strings.ToLower(d)) {
			continue
		}
		districts = append(districts, d)
		if rule := districtSentence(text, d); rule != "" {
			rules = append(rules, domain.DistrictRule{District: d, Rule: rule})
		}
	}
	return districts, rules
}

// districtSentence returns the first sentence mentioning the district.
func districtSentence(text, district string) string {
	needle := strings.ToLower(district)
	for _, sent := range strings.Split(text, ".") {
		if strings.Contains(strings.ToLower(sent), needle) {
			return strings.TrimSpace(sent)
		}
	}
	return ""
}

func containsAny(s string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func trimExt(fileName string) string {
	if i := strings.LastIndex(fileName, "."); i > 0 {
		return fileName[:i]
	}
	return fileName
}
