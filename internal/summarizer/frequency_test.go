package summarizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizePicksFrequentTopicSentences(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "Building permits regulate construction in Stuttgart. " +
		"Building permits require a completed application form. " +
		"The weather was pleasant yesterday. " +
		"Building permits are issued by the building authority."

	out, err := s.Summarize(text, 2)
	require.NoError(t, err)
	assert.Contains(t, out, "permits")
	assert.NotContains(t, out, "weather")
}

func TestSummarizeKeepsOriginalSentenceOrder(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "Alpha rules apply first and alpha rules matter. " +
		"Unrelated filler sentence here. " +
		"Alpha rules apply last and alpha rules bind."

	out, err := s.Summarize(text, 2)
	require.NoError(t, err)
	first := strings.Index(out, "first")
	last := strings.Index(out, "last")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, last)
	assert.Less(t, first, last)
}

func TestSummarizeShortTextReturnedWhole(t *testing.T) {
	s := NewFrequencySummarizer()
	out, err := s.Summarize("no sentence terminator here", 3)
	require.NoError(t, err)
	assert.Equal(t, "no sentence terminator here", out)
}
