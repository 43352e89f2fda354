// Package chunking turns extracted filing text into section-labeled,
// token-bounded chunks that overlap by trailing sentences.
package chunking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/filingrag/internal/filing"
)

// Metadata keys written onto every chunk.
const (
	KeyTicker          = "ticker"
	KeyFormType        = "form_type"
	KeyFiscalYear      = "fiscal_year"
	KeyFiscalQuarter   = "fiscal_quarter"
	KeyFilingDate      = "filing_date"
	KeyAccessionNumber = "accession_number"
	KeySection         = "section"
	KeyChunkIndex      = "chunk_index"
)

const unknownAccession = "unknown"

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Chunk is one retrievable unit of filing text.
type Chunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkMetadata is the filing record plus the chunk's position in it.
type ChunkMetadata struct {
	filing.Metadata
	Section    string `json:"section"`
	ChunkIndex int    `json:"chunk_index"`
}

// Fields flattens the metadata into string pairs for vector store payloads.
// Empty strings and zero fiscal periods are omitted; chunk_index is always set.
func (m ChunkMetadata) Fields() map[string]string {
	out := make(map[string]string, 8)
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put(KeyTicker, m.Ticker)
	put(KeyFormType, m.FormType)
	if m.FiscalYear > 0 {
		out[KeyFiscalYear] = strconv.Itoa(m.FiscalYear)
	}
	if m.FiscalQuarter > 0 {
		out[KeyFiscalQuarter] = strconv.Itoa(m.FiscalQuarter)
	}
	put(KeyFilingDate, m.FilingDate)
	put(KeyAccessionNumber, m.AccessionNumber)
	put(KeySection, m.Section)
	out[KeyChunkIndex] = strconv.Itoa(m.ChunkIndex)
	return out
}

// ChunkID builds {accession}_{section title}_{index} restricted to
// [A-Za-z0-9_-]. Spaces in the title become underscores.
func ChunkID(accession, sectionTitle string, index int) string {
	if strings.TrimSpace(accession) == "" {
		accession = unknownAccession
	}
	raw := fmt.Sprintf("%s_%s_%d", accession, strings.ReplaceAll(sectionTitle, " ", "_"), index)
	return unsafeIDChars.ReplaceAllString(raw, "")
}

// Texts returns the text of each chunk, in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
