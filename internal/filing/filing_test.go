package filing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespace(t *testing.T) {
	tests := []struct {
		name      string
		ticker    string
		accession string
		want      string
	}{
		{"strips dashes", "AAPL", "0000320193-24-000069", "AAPL_000032019324000069"},
		{"uppercases ticker", "msft", "0000950170-24-048288", "MSFT_000095017024048288"},
		{"drops unsafe characters", "BRK.B", "0001067983/24 000011", "BRKB_000106798324000011"},
		{"trims whitespace", "  nvda ", " 0001045810-24-000316 ", "NVDA_000104581024000316"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Namespace(tt.ticker, tt.accession)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, ValidateNamespace(got))
		})
	}
}

func TestValidateNamespace(t *testing.T) {
	tests := []struct {
		name    string
		ns      string
		wantErr bool
	}{
		{"valid", "AAPL_000032019324000069", false},
		{"empty", "", true},
		{"path traversal", "../etc", true},
		{"spaces", "AAPL 0001", true},
		{"missing accession", "AAPL_", true},
		{"missing ticker", "_0001", true},
		{"too long", string(make([]byte, 200)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNamespace(tt.ns)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidNamespace)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeriveFiscalPeriod(t *testing.T) {
	tests := []struct {
		form        string
		filed       string
		wantYear    int
		wantQuarter int
	}{
		{Form10Q, "2024-02-02", 2023, 4},
		{Form10Q, "2024-03-31", 2023, 4},
		{Form10Q, "2024-05-03", 2024, 1},
		{Form10Q, "2024-08-02", 2024, 2},
		{Form10Q, "2024-11-01", 2024, 3},
		{Form10K, "2024-02-20", 2023, 0},
		{Form10K, "2024-11-01", 2024, 0},
	}

	for _, tt := range tests {
		t.Run(tt.form+"_"+tt.filed, func(t *testing.T) {
			d, err := ParseFilingDate(tt.filed)
			require.NoError(t, err)
			year, quarter := DeriveFiscalPeriod(tt.form, d)
			assert.Equal(t, tt.wantYear, year)
			assert.Equal(t, tt.wantQuarter, quarter)
		})
	}
}

func TestParseFilingDate(t *testing.T) {
	d, err := ParseFilingDate("2024-08-02T16:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.August, d.Month())

	_, err = ParseFilingDate("08/02/2024")
	assert.ErrorIs(t, err, ErrInvalidFilingDate)
}

func TestMetadata_Normalize(t *testing.T) {
	m := Metadata{
		Ticker:          " aapl ",
		FilingDate:      "2024-08-02",
		AccessionNumber: "0000320193-24-000081",
	}.Normalize()

	assert.Equal(t, "AAPL", m.Ticker)
	assert.Equal(t, DefaultFormType, m.FormType)
	assert.Equal(t, 2024, m.FiscalYear)
	assert.Equal(t, 2, m.FiscalQuarter)
	assert.Equal(t, "AAPL_000032019324000081", m.Namespace())
	assert.NoError(t, m.Validate())
}

func TestMetadata_NormalizeKeepsExplicitPeriod(t *testing.T) {
	m := Metadata{
		Ticker:          "AAPL",
		FormType:        "10-k",
		FiscalYear:      2022,
		FilingDate:      "2024-08-02",
		AccessionNumber: "x",
	}.Normalize()

	assert.Equal(t, Form10K, m.FormType)
	assert.Equal(t, 2022, m.FiscalYear)
	assert.Equal(t, 0, m.FiscalQuarter)
}

func TestMetadata_Validate(t *testing.T) {
	assert.ErrorIs(t, Metadata{AccessionNumber: "1"}.Validate(), ErrInvalidNamespace)
	assert.ErrorIs(t, Metadata{Ticker: "AAPL"}.Validate(), ErrInvalidNamespace)
}
