// Package tokenizer counts tokens against an LLM vocabulary so chunk budgets
// can be enforced in the same unit the downstream model uses.
package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the GPT-4 / text-embedding-3 vocabulary.
const DefaultEncoding = "cl100k_base"

// Kinds accepted by New.
const (
	KindTiktoken = "tiktoken"
	KindWords    = "words"
)

var (
	// ErrUnknownEncoding indicates the encoding or model has no BPE table.
	ErrUnknownEncoding = errors.New("unknown tokenizer encoding")

	// ErrUnknownKind indicates an unsupported tokenizer kind.
	ErrUnknownKind = errors.New("unknown tokenizer kind")
)

// Counter reports how many tokens a text span occupies.
type Counter interface {
	Count(text string) int
}

// Tiktoken counts BPE tokens using a tiktoken encoding.
type Tiktoken struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// NewTiktoken loads the named encoding. An empty name selects DefaultEncoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownEncoding, encoding, err)
	}
	return &Tiktoken{enc: enc, encoding: encoding}, nil
}

// ForModel resolves the encoding used by model, falling back to
// DefaultEncoding for models tiktoken does not know about.
func ForModel(model string) (*Tiktoken, error) {
	encoding, ok := tiktoken.MODEL_TO_ENCODING[model]
	if !ok {
		encoding = DefaultEncoding
	}
	return NewTiktoken(encoding)
}

// Count returns the number of BPE tokens in text. Special-token markers are
// treated as ordinary text.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Encoding returns the encoding name.
func (t *Tiktoken) Encoding() string {
	return t.encoding
}

// Words counts whitespace-delimited words. It needs no vocabulary download.
type Words struct{}

// Count returns the number of whitespace-separated fields in text.
func (Words) Count(text string) int {
	return len(strings.Fields(text))
}

var cacheDirOnce sync.Once

// SetCacheDir points tiktoken's BPE download cache at dir. Only the first
// call has an effect, and it must happen before the first encoder is built.
func SetCacheDir(dir string) {
	if dir == "" {
		return
	}
	cacheDirOnce.Do(func() {
		_ = os.Setenv("TIKTOKEN_CACHE_DIR", dir)
	})
}

// New builds a Counter of the given kind. Kind defaults to tiktoken.
func New(kind, encoding string) (Counter, error) {
	switch kind {
	case KindTiktoken, "":
		return NewTiktoken(encoding)
	case KindWords:
		return Words{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
