package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatch(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		ids            []string
		wantIDs        []string
		wantConfidence []float64
	}{
		{
			name:           "top level array",
			raw:            `[{"id":"a","name":"Ada","confidence":0.9},{"id":"b","name":"Bob","confidence":0.4}]`,
			ids:            []string{"a", "b"},
			wantIDs:        []string{"a", "b"},
			wantConfidence: []float64{0.9, 0.4},
		},
		{
			name:           "results wrapper in a code fence",
			raw:            "```json\n{\"results\":[{\"id\":\"b\",\"confidence\":1},{\"id\":\"a\",\"confidence\":0.5}]}\n```",
			ids:            []string{"a", "b"},
			wantIDs:        []string{"a", "b"},
			wantConfidence: []float64{0.5, 1},
		},
		{
			name:           "computed confidence",
			raw:            `[{"id":"a","name":"Ada","email":"ada@example.com","skills":["go"],"experience":[],"phone":""}]`,
			ids:            []string{"a"},
			wantIDs:        []string{"a"},
			wantConfidence: []float64{3.0 / 8.0},
		},
		{
			name:           "out of range confidence is recomputed",
			raw:            `[{"id":"a","confidence":7,"name":"Ada","summary":"x"}]`,
			ids:            []string{"a"},
			wantIDs:        []string{"a"},
			wantConfidence: []float64{2.0 / 8.0},
		},
		{
			name:           "extra entries are ignored",
			raw:            `[{"id":"a","confidence":0.8},{"id":"zzz","confidence":0.1}]`,
			ids:            []string{"a"},
			wantIDs:        []string{"a"},
			wantConfidence: []float64{0.8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBatch(tt.raw, tt.ids)
			require.NoError(t, err)
			require.Len(t, got, len(tt.wantIDs))

			for i, rec := range got {
				assert.Equal(t, tt.wantIDs[i], rec.ID)
				assert.InDelta(t, tt.wantConfidence[i], rec.Confidence, 0.0001)

				var data map[string]any
				require.NoError(t, json.Unmarshal(rec.Data, &data))
				assert.Equal(t, rec.ID, data["id"])
			}
		})
	}
}

func TestParseBatch_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ids  []string
		want error
	}{
		{name: "empty", raw: "  ", ids: []string{"a"}, want: ErrMalformedResponse},
		{name: "prose", raw: "Sorry, I cannot help", ids: []string{"a"}, want: ErrMalformedResponse},
		{name: "broken json", raw: `[{"id":"a"`, ids: []string{"a"}, want: ErrMalformedResponse},
		{name: "object without results", raw: `{"id":"a"}`, ids: []string{"a"}, want: ErrMalformedResponse},
		{name: "entry without id", raw: `[{"name":"Ada"}]`, ids: []string{"a"}, want: ErrMalformedResponse},
		{name: "missing entry", raw: `[{"id":"a"}]`, ids: []string{"a", "b"}, want: ErrMissingEntries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBatch(tt.raw, tt.ids)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
