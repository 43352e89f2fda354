package chunking

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Section titles that are not driven by the heading table.
const (
	FallbackTitle = "Document"
	PreambleTitle = "Preamble"
)

// MinSectionLength is the shortest trimmed section content, in characters,
// that is kept. Shorter spans are spurious heading hits such as a table of
// contents entry.
const MinSectionLength = 100

// Heading pairs a filing heading pattern with the canonical section title.
type Heading struct {
	Pattern *regexp.Regexp
	Title   string
}

// NewHeading compiles pattern case-insensitively.
func NewHeading(pattern, title string) Heading {
	return Heading{Pattern: regexp.MustCompile(`(?i)` + pattern), Title: title}
}

// DefaultHeadings is the ordered heading table for 10-Q and 10-K filings.
// Order matters only as a tie-break when two headings match at one offset.
var DefaultHeadings = []Heading{
	NewHeading(`PART\s+I\b`, "PART I"),
	NewHeading(`PART\s+II\b`, "PART II"),
	NewHeading(`Item\s+1\.\s*Financial\s+Statements`, "Item 1 - Financial Statements"),
	NewHeading(`Item\s+1A\.\s*Risk\s+Factors`, "Item 1A - Risk Factors"),
	NewHeading(`Item\s+2\.\s*Management's\s+Discussion`, "Item 2 - MD&A"),
	NewHeading(`Item\s+3\.\s*Quantitative`, "Item 3 - Quantitative Disclosures"),
	NewHeading(`Item\s+4\.\s*Controls`, "Item 4 - Controls"),
	NewHeading(`Item\s+5\.\s*Other\s+Information`, "Item 5 - Other Information"),
	NewHeading(`Item\s+6\.\s*Exhibits`, "Item 6 - Exhibits"),
	NewHeading(`NOTES\s+TO\s+(CONDENSED\s+)?CONSOLIDATED\s+FINANCIAL\s+STATEMENTS`, "Notes to Financial Statements"),
	NewHeading(`CONSOLIDATED\s+BALANCE\s+SHEETS?`, "Balance Sheet"),
	NewHeading(`CONSOLIDATED\s+STATEMENTS?\s+OF\s+OPERATIONS?`, "Income Statement"),
	NewHeading(`CONSOLIDATED\s+STATEMENTS?\s+OF\s+CASH\s+FLOWS?`, "Cash Flow Statement"),
	NewHeading(`CONSOLIDATED\s+STATEMENTS?\s+OF\s+COMPREHENSIVE`, "Comprehensive Income"),
	NewHeading(`CONSOLIDATED\s+STATEMENTS?\s+OF\s+(STOCKHOLDERS'?|SHAREHOLDERS'?)\s+EQUITY`, "Equity Statement"),
}

// Section is a labeled span of filing text. Start and End are byte offsets
// into the text passed to Segment.
type Section struct {
	Title   string
	Content string
	Start   int
	End     int
}

// Segmenter partitions filing text into labeled sections.
type Segmenter struct {
	headings  []Heading
	minLength int
}

// NewSegmenter returns a segmenter over DefaultHeadings followed by any
// extra headings.
func NewSegmenter(extra ...Heading) *Segmenter {
	headings := make([]Heading, 0, len(DefaultHeadings)+len(extra))
	headings = append(headings, DefaultHeadings...)
	headings = append(headings, extra...)
	return &Segmenter{headings: headings, minLength: MinSectionLength}
}

type headingMatch struct {
	start int
	order int
	title string
}

// Segment returns the sections of text in document order.
//
// Each section runs from its heading to the next heading. Text between two
// non-adjacent headings belongs to the earlier one. Text ahead of the first
// heading becomes a Preamble section. Sections shorter than MinSectionLength
// are dropped, and if nothing survives the whole text is a single Document
// section. Blank text yields no sections.
func (s *Segmenter) Segment(text string) []Section {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	matches := s.findHeadings(text)

	var sections []Section
	add := func(title string, start, end int) {
		content := strings.TrimSpace(text[start:end])
		if utf8.RuneCountInString(content) < s.minLength {
			return
		}
		sections = append(sections, Section{Title: title, Content: content, Start: start, End: end})
	}

	if len(matches) > 0 && matches[0].start > 0 {
		add(PreambleTitle, 0, matches[0].start)
	}
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1].start
		}
		add(m.title, m.start, end)
	}

	if len(sections) == 0 {
		return []Section{{
			Title:   FallbackTitle,
			Content: strings.TrimSpace(text),
			Start:   0,
			End:     len(text),
		}}
	}
	return sections
}

// findHeadings collects matches for every heading, ordered by offset. Of
// several matches at one offset only the earliest table entry is kept.
func (s *Segmenter) findHeadings(text string) []headingMatch {
	var all []headingMatch
	for order, h := range s.headings {
		for _, loc := range h.Pattern.FindAllStringIndex(text, -1) {
			all = append(all, headingMatch{start: loc[0], order: order, title: h.Title})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return all[i].order < all[j].order
	})

	out := make([]headingMatch, 0, len(all))
	for _, m := range all {
		if len(out) > 0 && out[len(out)-1].start == m.start {
			continue
		}
		out = append(out, m)
	}
	return out
}
