// Package parser splits a combined model response back into one record per
// queued item.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedResponse is returned when the response is not a JSON array of entries
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrMissingEntries is returned when the response lacks an entry for a requested id
	ErrMissingEntries = errors.New("model response missing entries")
)

// fields counted when the model does not report its own confidence
var expectedFields = []string{
	"name", "email", "phone", "location", "summary", "skills", "experience", "education",
}

// Record is the structured extraction for one item
type Record struct {
	ID         string          `json:"id"`
	Confidence float64         `json:"confidence"`
	Data       json.RawMessage `json:"data"`
}

// ParseBatch decodes raw and returns one record per id, in ids order. Any
// missing id fails the whole batch.
func ParseBatch(raw string, ids []string) ([]Record, error) {
	entries, err := decodeEntries(raw)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]map[string]json.RawMessage, len(entries))
	for i, entry := range entries {
		var id string
		rawID, ok := entry["id"]
		if !ok || json.Unmarshal(rawID, &id) != nil || id == "" {
			return nil, fmt.Errorf("%w: entry %d has no string id", ErrMalformedResponse, i)
		}
		if _, dup := byID[id]; !dup {
			byID[id] = entry
		}
	}

	var missing []string
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		entry, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: re-encode entry %s: %v", ErrMalformedResponse, id, err)
		}
		records = append(records, Record{
			ID:         id,
			Confidence: confidence(entry),
			Data:       data,
		})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntries, strings.Join(missing, ", "))
	}
	return records, nil
}

// decodeEntries accepts a top-level array or an object with a "results" array,
// optionally wrapped in a markdown code fence
func decodeEntries(raw string) ([]map[string]json.RawMessage, error) {
	body := bytes.TrimSpace([]byte(stripFence(raw)))
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	switch body[0] {
	case '[':
		var entries []map[string]json.RawMessage
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return entries, nil
	case '{':
		var wrapper struct {
			Results []map[string]json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if wrapper.Results == nil {
			return nil, fmt.Errorf("%w: object without results array", ErrMalformedResponse)
		}
		return wrapper.Results, nil
	default:
		return nil, fmt.Errorf("%w: expected JSON array or object", ErrMalformedResponse)
	}
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return s
}

// confidence uses the model's own score when it is a number in [0, 1],
// otherwise the share of expected fields that are populated
func confidence(entry map[string]json.RawMessage) float64 {
	if raw, ok := entry["confidence"]; ok {
		var c float64
		if err := json.Unmarshal(raw, &c); err == nil && c >= 0 && c <= 1 {
			return c
		}
	}

	populated := 0
	for _, field := range expectedFields {
		if raw, ok := entry[field]; ok && !isEmpty(raw) {
			populated++
		}
	}
	return float64(populated) / float64(len(expectedFields))
}

func isEmpty(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}
