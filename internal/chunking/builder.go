package chunking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/filingrag/internal/filing"
	"github.com/fyrsmithlabs/filingrag/internal/tokenizer"
)

// Defaults for the chunk token budget.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ErrInvalidOptions is returned by NewBuilder for an unusable budget.
var ErrInvalidOptions = errors.New("invalid chunking options")

// Builder packs sections into chunks of at most size tokens, seeding each
// chunk after the first with up to overlap tokens of trailing sentences.
type Builder struct {
	size      int
	overlap   int
	counter   tokenizer.Counter
	segmenter *Segmenter
}

// Option configures a Builder.
type Option func(*Builder)

// WithChunkSize sets the token cap per chunk.
func WithChunkSize(n int) Option {
	return func(b *Builder) { b.size = n }
}

// WithChunkOverlap sets the trailing-sentence overlap budget in tokens.
func WithChunkOverlap(n int) Option {
	return func(b *Builder) { b.overlap = n }
}

// WithCounter sets the token counter. Without it tokens are whitespace
// delimited words.
func WithCounter(c tokenizer.Counter) Option {
	return func(b *Builder) { b.counter = c }
}

// WithHeadings registers extra section headings after the default table.
func WithHeadings(h ...Heading) Option {
	return func(b *Builder) { b.segmenter = NewSegmenter(h...) }
}

// NewBuilder returns a Builder. The overlap must be smaller than the chunk size.
func NewBuilder(opts ...Option) (*Builder, error) {
	b := &Builder{
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.counter == nil {
		b.counter = tokenizer.Words{}
	}
	if b.segmenter == nil {
		b.segmenter = NewSegmenter()
	}

	if b.size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidOptions, b.size)
	}
	if b.overlap < 0 || b.overlap >= b.size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidOptions, b.overlap, b.size)
	}
	return b, nil
}

// ChunkSize returns the configured token cap.
func (b *Builder) ChunkSize() int { return b.size }

// ChunkOverlap returns the configured overlap budget.
func (b *Builder) ChunkOverlap() int { return b.overlap }

// ChunkSection splits one section into ordered chunks. Blank content yields
// no chunks.
func (b *Builder) ChunkSection(section Section, meta filing.Metadata) []Chunk {
	return b.chunkSection(section, meta.Normalize(), 0)
}

// chunkSection numbers chunks from start, so a title repeated later in a
// document continues its index instead of reusing ids.
func (b *Builder) chunkSection(section Section, meta filing.Metadata, start int) []Chunk {
	texts := b.pack(strings.TrimSpace(section.Content))
	if len(texts) == 0 {
		return nil
	}

	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		idx := start + i
		chunks[i] = Chunk{
			ID:   ChunkID(meta.AccessionNumber, section.Title, idx),
			Text: text,
			Metadata: ChunkMetadata{
				Metadata:   meta,
				Section:    section.Title,
				ChunkIndex: idx,
			},
		}
	}
	return chunks
}

// pack greedily accumulates sentences and returns the chunk texts. Counts are
// taken on the joined text so the emitted string is what was measured.
func (b *Builder) pack(content string) []string {
	if content == "" {
		return nil
	}

	var (
		out []string
		buf []string
	)
	for _, sentence := range SplitSentences(content) {
		if b.counter.Count(sentence) > b.size {
			if len(buf) > 0 {
				out = append(out, strings.Join(buf, " "))
			}
			windows := b.splitOversize(sentence)
			out = append(out, windows[:len(windows)-1]...)
			buf = []string{windows[len(windows)-1]}
			continue
		}

		if len(buf) == 0 || b.fits(buf, sentence, b.size) {
			buf = append(buf, sentence)
			continue
		}

		out = append(out, strings.Join(buf, " "))
		seed := b.overlapTail(buf)
		for len(seed) > 0 && !b.fits(seed, sentence, b.size) {
			seed = seed[1:]
		}
		next := make([]string, 0, len(seed)+1)
		next = append(next, seed...)
		buf = append(next, sentence)
	}
	if len(buf) > 0 {
		out = append(out, strings.Join(buf, " "))
	}
	return out
}

func (b *Builder) fits(buf []string, sentence string, limit int) bool {
	joined := strings.Join(buf, " ") + " " + sentence
	return b.counter.Count(joined) <= limit
}

// overlapTail returns the longest suffix of sentences whose joined count is
// within the overlap budget.
func (b *Builder) overlapTail(sentences []string) []string {
	if b.overlap == 0 {
		return nil
	}
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		if b.counter.Count(strings.Join(sentences[i:], " ")) > b.overlap {
			break
		}
		start = i
	}
	return sentences[start:]
}

// splitOversize cuts a sentence larger than the chunk size into word windows,
// each within the cap. It always returns at least one window.
func (b *Builder) splitOversize(sentence string) []string {
	var (
		out []string
		cur string
	)
	for _, word := range strings.Fields(sentence) {
		if b.counter.Count(word) > b.size {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			out = append(out, b.splitRunes(word)...)
			continue
		}
		if cur == "" {
			cur = word
			continue
		}
		if candidate := cur + " " + word; b.counter.Count(candidate) <= b.size {
			cur = candidate
			continue
		}
		out = append(out, cur)
		cur = word
	}
	if cur != "" {
		out = append(out, cur)
	}
	if len(out) == 0 {
		out = append(out, sentence)
	}
	return out
}

// splitRunes cuts a single word into the longest rune prefixes that fit the
// cap. Every piece holds at least one rune.
func (b *Builder) splitRunes(word string) []string {
	var out []string
	runes := []rune(word)
	for len(runes) > 0 {
		lo, hi := 1, len(runes)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if b.counter.Count(string(runes[:mid])) <= b.size {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		out = append(out, string(runes[:lo]))
		runes = runes[lo:]
	}
	return out
}
