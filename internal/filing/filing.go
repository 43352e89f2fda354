// Package filing describes the SEC filing record that chunks inherit their
// provenance from, and derives the per-filing vector namespace key.
package filing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultFormType is assumed when a record carries no form type.
const DefaultFormType = "10-Q"

// Form types with special fiscal-period rules.
const (
	Form10Q = "10-Q"
	Form10K = "10-K"
)

const maxNamespaceLen = 128

var (
	// ErrInvalidNamespace indicates an empty or unsafe namespace key.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrInvalidFilingDate indicates a filing date that is not an ISO date.
	ErrInvalidFilingDate = errors.New("invalid filing date")
)

var (
	unsafeKeyChars   = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Metadata is the filing record supplied by the surrounding service. It is
// copied by value into every chunk so chunking never re-fetches filing state.
type Metadata struct {
	Ticker          string `json:"ticker"`
	FormType        string `json:"form_type"`
	FiscalYear      int    `json:"fiscal_year,omitempty"`
	FiscalQuarter   int    `json:"fiscal_quarter,omitempty"`
	FilingDate      string `json:"filing_date,omitempty"`
	AccessionNumber string `json:"accession_number"`
}

// Normalize returns a copy with an uppercased ticker and a default form type.
// A missing fiscal period is derived from the filing date when one parses.
func (m Metadata) Normalize() Metadata {
	m.Ticker = strings.ToUpper(strings.TrimSpace(m.Ticker))
	m.FormType = strings.ToUpper(strings.TrimSpace(m.FormType))
	if m.FormType == "" {
		m.FormType = DefaultFormType
	}
	m.AccessionNumber = strings.TrimSpace(m.AccessionNumber)
	m.FilingDate = strings.TrimSpace(m.FilingDate)

	if m.FiscalYear == 0 && m.FilingDate != "" {
		if d, err := ParseFilingDate(m.FilingDate); err == nil {
			m.FiscalYear, m.FiscalQuarter = DeriveFiscalPeriod(m.FormType, d)
		}
	}
	return m
}

// Namespace returns the vector namespace for this filing.
func (m Metadata) Namespace() string {
	return Namespace(m.Ticker, m.AccessionNumber)
}

// Validate checks that the record can key a namespace.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.Ticker) == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidNamespace)
	}
	if strings.TrimSpace(m.AccessionNumber) == "" {
		return fmt.Errorf("%w: accession number is required", ErrInvalidNamespace)
	}
	return ValidateNamespace(m.Namespace())
}

// Namespace builds {TICKER}_{accession without dashes}. Characters outside
// [A-Za-z0-9_-] are dropped so the key is safe as a collection name.
func Namespace(ticker, accession string) string {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	accession = strings.ReplaceAll(strings.TrimSpace(accession), "-", "")
	return unsafeKeyChars.ReplaceAllString(ticker+"_"+accession, "")
}

// ValidateNamespace rejects empty, oversized or unsafe namespace keys.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	if len(ns) > maxNamespaceLen {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidNamespace, maxNamespaceLen)
	}
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("%w: %q must match [A-Za-z0-9_-]+", ErrInvalidNamespace, ns)
	}
	if strings.HasPrefix(ns, "_") || strings.HasSuffix(ns, "_") {
		return fmt.Errorf("%w: %q is missing ticker or accession", ErrInvalidNamespace, ns)
	}
	return nil
}

// ParseFilingDate accepts YYYY-MM-DD or a full RFC 3339 timestamp.
func ParseFilingDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d, nil
	}
	if d, err := time.Parse(time.RFC3339, s); err == nil {
		return d, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFilingDate, s)
}

// DeriveFiscalPeriod infers the fiscal year and quarter a filing reports on
// from the month it was filed, assuming a calendar fiscal year.
//
// A 10-Q filed in Jan-Mar covers Q4 of the previous year; Apr-Jun covers Q1,
// Jul-Sep Q2 and Oct-Dec Q3. A 10-K reports quarter 0 for the previous year
// when filed in Jan-Mar and for the filing year otherwise.
func DeriveFiscalPeriod(formType string, filed time.Time) (year, quarter int) {
	year = filed.Year()
	month := filed.Month()

	if strings.EqualFold(formType, Form10K) {
		if month <= time.March {
			year--
		}
		return year, 0
	}

	switch {
	case month <= time.March:
		return year - 1, 4
	case month <= time.June:
		return year, 1
	case month <= time.September:
		return year, 2
	default:
		return year, 3
	}
}
