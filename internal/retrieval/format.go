package retrieval

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/filingrag/internal/chunking"
	"github.com/fyrsmithlabs/filingrag/internal/vectorstore"
)

const sourceSeparator = "\n\n---\n\n"

// FormatContext renders results as numbered source blocks for a prompt:
//
//	[Source 1 - Item 2. MD&A]
//	<text>
//
// Blocks are separated by a horizontal rule.
func FormatContext(results []vectorstore.QueryResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		section := r.Metadata[chunking.KeySection]
		if section == "" {
			section = "Unknown"
		}
		blocks[i] = fmt.Sprintf("[Source %d - %s]\n%s", i+1, section, r.Text)
	}
	return strings.Join(blocks, sourceSeparator)
}
