package chunker

import (
	"regexp"
	"strings"
)

// SentenceChunker splits text into character-budgeted chunks along
// sentence boundaries, seeding each new chunk with the trailing words of
// the previous one so context carries across chunk borders.
type SentenceChunker struct {
	maxChunkChars int
	overlapChars  int
	minChunkChars int
	splitter      *regexp.Regexp
}

// NewSentenceChunker creates a chunker with the given character budget,
// overlap budget and minimum chunk length. Non-positive values fall back
// to defaults (400 / 50 / 50).
func NewSentenceChunker(maxChunkChars, overlapChars, minChunkChars int) *SentenceChunker {
	if maxChunkChars <= 0 {
		maxChunkChars = 400
	}
	if overlapChars < 0 {
		overlapChars = 50
	}
	if minChunkChars < 0 {
		minChunkChars = 50
	}
	return &SentenceChunker{
		maxChunkChars: maxChunkChars,
		overlapChars:  overlapChars,
		minChunkChars: minChunkChars,
		splitter:      regexp.MustCompile(`[.!?]+`),
	}
}

// Split chunks the text. It is pure: identical input always yields the
// identical sequence. No chunk exceeds the budget unless a single
// sentence alone does, in which case that sentence becomes its own
// oversized chunk. Chunks below the minimum length are dropped as noise.
func (c *SentenceChunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var sentences []string
	for _, s := range c.splitter.Split(text, -1) {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	var chunks []string
	var buf string
	for _, sent := range sentences {
		if buf == "" {
			if len(sent) > c.maxChunkChars {
				chunks = append(chunks, sent)
				continue
			}
			buf = sent
			continue
		}
		if len(buf)+1+len(sent) > c.maxChunkChars {
			chunks = append(chunks, buf)
			seed := tailWords(buf, c.overlapChars)
			switch {
			case seed != "" && len(seed)+1+len(sent) <= c.maxChunkChars:
				buf = seed + " " + sent
			case len(sent) > c.maxChunkChars:
				chunks = append(chunks, sent)
				buf = ""
			default:
				buf = sent
			}
			continue
		}
		buf += " " + sent
	}
	if buf != "" {
		chunks = append(chunks, buf)
	}

	out := chunks[:0]
	for _, ch := range chunks {
		if len(ch) >= c.minChunkChars {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// tailWords returns the longest run of trailing whole words whose total
// length stays within budget characters.
func tailWords(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	words := strings.Fields(s)
	total := 0
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		add := len(words[i])
		if total > 0 {
			add++ // joining space
		}
		if total+add > budget {
			break
		}
		total += add
		start = i
	}
	if start == len(words) {
		return ""
	}
	return strings.Join(words[start:], " ")
}
