package chunking

import (
	"regexp"
	"strings"
)

// sentenceBoundary matches terminal punctuation, whitespace, and the capital
// that opens the next sentence. The split point is just after the punctuation.
var sentenceBoundary = regexp.MustCompile(`[.!?]\s+[A-Z]`)

// SplitSentences breaks text into trimmed, non-empty sentences. It is a cheap
// heuristic: abbreviations and decimals may stay joined, which the chunker
// tolerates because it re-packs sentences by token budget anyway.
func SplitSentences(text string) []string {
	var out []string
	push := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		push(text[start : loc[0]+1])
		// the next sentence begins at the capital letter, the match's last byte
		start = loc[1] - 1
	}
	push(text[start:])
	return out
}
