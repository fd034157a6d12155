package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimize(t *testing.T) {
	o := NewOptimizer()

	tests := []struct {
		name          string
		input         string
		want          string
		wantOriginal  int
		wantFinal     int
		wantReduction float64
	}{
		{
			name:         "collapses whitespace and blank lines",
			input:        "Jane   Doe\t\tEngineer\r\n\r\n\r\n\r\nBerlin  ",
			want:         "Jane Doe Engineer\n\nBerlin",
			wantOriginal: 4,
			wantFinal:    4,
		},
		{
			name:          "drops repeated page headers",
			input:         "Jane Doe CV\nGo\nJane Doe CV\nSQL\njane doe cv\nAWS",
			want:          "Jane Doe CV\nGo\nSQL\nAWS",
			wantOriginal:  12,
			wantFinal:     6,
			wantReduction: 50,
		},
		{
			name:         "keeps lines repeated twice",
			input:        "Software Engineer\nAcme\nSoftware Engineer\nGlobex",
			want:         "Software Engineer\nAcme\nSoftware Engineer\nGlobex",
			wantOriginal: 6,
			wantFinal:    6,
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := o.Optimize(tt.input)

			assert.Equal(t, tt.want, got.OptimizedText)
			assert.Equal(t, tt.wantOriginal, got.OriginalWordCount)
			assert.Equal(t, tt.wantFinal, got.FinalWordCount)
			assert.InDelta(t, tt.wantReduction, got.ReductionPercentage, 0.001)
		})
	}
}
