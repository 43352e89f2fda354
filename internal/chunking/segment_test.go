package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// body is long enough to survive the minimum section length.
var body = strings.Repeat("Revenue increased due to strong demand across regions. ", 4)

func titles(sections []Section) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.Title
	}
	return out
}

func TestSegment_Blank(t *testing.T) {
	assert.Empty(t, NewSegmenter().Segment(""))
	assert.Empty(t, NewSegmenter().Segment("   \n\t"))
}

func TestSegment_NoHeadingsFallsBackToDocument(t *testing.T) {
	sections := NewSegmenter().Segment("  short text without any headings  ")

	require.Len(t, sections, 1)
	assert.Equal(t, FallbackTitle, sections[0].Title)
	assert.Equal(t, "short text without any headings", sections[0].Content)
}

func TestSegment_OrdersSectionsAndDropsShortOnes(t *testing.T) {
	text := body +
		"PART I " +
		"Item 1. Financial Statements " + body +
		"CONSOLIDATED BALANCE SHEETS " + body +
		"Item 2. Management's Discussion and Analysis " + body

	sections := NewSegmenter().Segment(text)

	// "PART I" alone is too short to keep.
	assert.Equal(t, []string{
		PreambleTitle,
		"Item 1 - Financial Statements",
		"Balance Sheet",
		"Item 2 - MD&A",
	}, titles(sections))

	for _, s := range sections {
		assert.GreaterOrEqual(t, len(s.Content), MinSectionLength)
		assert.Equal(t, strings.TrimSpace(text[s.Start:s.End]), s.Content)
	}
	assert.True(t, strings.HasPrefix(sections[1].Content, "Item 1. Financial Statements"))
}

func TestSegment_CaseInsensitive(t *testing.T) {
	text := "consolidated statements of cash flows " + body +
		"Notes To Condensed Consolidated Financial Statements " + body

	sections := NewSegmenter().Segment(text)

	assert.Equal(t, []string{"Cash Flow Statement", "Notes to Financial Statements"}, titles(sections))
}

func TestSegment_ShortPreambleDropped(t *testing.T) {
	sections := NewSegmenter().Segment("Cover page. Item 1A. Risk Factors " + body)

	assert.Equal(t, []string{"Item 1A - Risk Factors"}, titles(sections))
}

func TestSegment_SameOffsetKeepsEarlierHeading(t *testing.T) {
	seg := NewSegmenter(NewHeading(`CONSOLIDATED\s+BALANCE`, "Custom Balance"))

	sections := seg.Segment("CONSOLIDATED BALANCE SHEETS " + body)

	assert.Equal(t, []string{"Balance Sheet"}, titles(sections))
}

func TestSegment_ExtraHeading(t *testing.T) {
	seg := NewSegmenter(NewHeading(`SEGMENT\s+INFORMATION`, "Segment Information"))

	sections := seg.Segment("Item 1A. Risk Factors " + body + "Segment Information " + body)

	assert.Equal(t, []string{"Item 1A - Risk Factors", "Segment Information"}, titles(sections))
}

func TestSegment_PartTwoIsNotPartOne(t *testing.T) {
	sections := NewSegmenter().Segment("PART II " + body)

	assert.Equal(t, []string{"PART II"}, titles(sections))
}
