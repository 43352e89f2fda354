package chunking

import (
	"strings"

	"github.com/fyrsmithlabs/filingrag/internal/filing"
)

// NormalizeWhitespace collapses every whitespace run to one space and trims
// the ends.
func NormalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ChunkDocument normalizes text, segments it, and chunks each section in
// document order. Chunk indexes count per section title across the whole
// document, so a heading that appears twice (a statement title repeated in
// the notes, say) keeps numbering where its first occurrence stopped and
// every id stays unique.
func (b *Builder) ChunkDocument(text string, meta filing.Metadata) []Chunk {
	text = NormalizeWhitespace(text)
	if text == "" {
		return nil
	}

	meta = meta.Normalize()
	next := make(map[string]int)
	var chunks []Chunk
	for _, section := range b.segmenter.Segment(text) {
		// Keyed on the sanitized id prefix: titles that differ only in
		// characters ChunkID strips would otherwise collide.
		key := ChunkID(meta.AccessionNumber, section.Title, 0)
		sc := b.chunkSection(section, meta, next[key])
		next[key] += len(sc)
		chunks = append(chunks, sc...)
	}
	return chunks
}

// Segment exposes the builder's segmenter for callers that only need
// section boundaries.
func (b *Builder) Segment(text string) []Section {
	return b.segmenter.Segment(NormalizeWhitespace(text))
}
