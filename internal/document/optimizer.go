package document

import (
	"regexp"
	"strings"
)

// Optimization reports what Optimize changed
type Optimization struct {
	OptimizedText       string  `json:"optimized_text"`
	OriginalWordCount   int     `json:"original_word_count"`
	FinalWordCount      int     `json:"final_word_count"`
	ReductionPercentage float64 `json:"reduction_percentage"`
}

// Optimizer normalises whitespace and drops lines repeated on every page,
// such as headers and footers
type Optimizer struct{}

// NewOptimizer creates an Optimizer
func NewOptimizer() *Optimizer {
	return &Optimizer{}
}

var inlineSpace = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)

// lines repeated this often are treated as page headers or footers
const repeatedLineThreshold = 3

// Optimize returns the normalised text. Only whitespace runs, blank-line runs
// and repeated header lines are removed. Wording is never changed.
func (o *Optimizer) Optimize(text string) Optimization {
	original := len(strings.Fields(text))

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	counts := make(map[string]int, len(lines))
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
		if lines[i] != "" {
			counts[strings.ToLower(lines[i])]++
		}
	}

	seen := make(map[string]struct{})
	var out []string
	blank := false
	for _, line := range lines {
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		key := strings.ToLower(line)
		if counts[key] >= repeatedLineThreshold {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, line)
		blank = false
	}

	optimized := strings.TrimSpace(strings.Join(out, "\n"))
	final := len(strings.Fields(optimized))

	res := Optimization{
		OptimizedText:     optimized,
		OriginalWordCount: original,
		FinalWordCount:    final,
	}
	if original > 0 {
		res.ReductionPercentage = float64(original-final) / float64(original) * 100
	}
	return res
}
