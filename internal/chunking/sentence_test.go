package chunking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"blank", "   ", nil},
		{"single without terminal", "Revenue grew", []string{"Revenue grew"}},
		{
			"mixed terminators",
			"Revenue rose. Margins fell! Why? Because costs grew.",
			[]string{"Revenue rose.", "Margins fell!", "Why?", "Because costs grew."},
		},
		{"decimal stays joined", "Sales were 3.5 billion. Costs fell.", []string{"Sales were 3.5 billion.", "Costs fell."}},
		{"lowercase continuation", "See note 4. see also note 5.", []string{"See note 4. see also note 5."}},
		{"collapses whitespace between", "One.\n\n  Two.", []string{"One.", "Two."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.text))
		})
	}
}
