// Package scheduler packs queued items into token-budgeted batches so each
// call to the generation service carries as many items as safely fit.
package scheduler

import (
	"errors"
	"math"
	"strings"
)

// ErrNoBudget is returned when the fixed overhead alone fills the request budget
var ErrNoBudget = errors.New("overhead leaves no token budget for items")

// Config holds the token budget and batch size limits
type Config struct {
	MaxTokensPerRequest  int
	PromptTemplateTokens int
	SafetyBufferTokens   int
	WordsPerToken        float64
	MinBatchSize         int
	MaxBatchSize         int
	GroupingEnabled      bool
	GroupingThreshold    int
	SimilarityThreshold  float64
}

// DefaultConfig returns the budget used when nothing is configured
func DefaultConfig() Config {
	return Config{
		MaxTokensPerRequest:  30000,
		PromptTemplateTokens: 1000,
		SafetyBufferTokens:   2000,
		WordsPerToken:        0.75,
		MinBatchSize:         3,
		MaxBatchSize:         15,
		GroupingEnabled:      true,
		GroupingThreshold:    6,
		SimilarityThreshold:  0.3,
	}
}

// Item is the schedulable view of a queued item
type Item struct {
	ID              string `json:"id"`
	Text            string `json:"-"`
	EstimatedTokens int    `json:"estimated_tokens"`
	Truncated       bool   `json:"truncated,omitempty"`
}

// Batch is a group of items sent in one request
type Batch struct {
	ID               string  `json:"id"`
	Items            []Item  `json:"items"`
	EstimatedTokens  int     `json:"estimated_tokens"`
	OverheadTokens   int     `json:"overhead_tokens"`
	TokenUtilization float64 `json:"token_utilization"`
}

// ItemIDs returns the ids of the batch members in order
func (b Batch) ItemIDs() []string {
	ids := make([]string, len(b.Items))
	for i, it := range b.Items {
		ids[i] = it.ID
	}
	return ids
}

// TotalTokens is the item estimate plus the fixed overhead
func (b Batch) TotalTokens() int {
	return b.EstimatedTokens + b.OverheadTokens
}

// Result is the output of CreateBatches
type Result struct {
	Batches         []Batch `json:"batches"`
	OverheadTokens  int     `json:"overhead_tokens"`
	AvailableTokens int     `json:"available_tokens"`
}

// estimateTokens approximates the token count of text from its word count
func estimateTokens(text string, wordsPerToken float64) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	if wordsPerToken <= 0 {
		wordsPerToken = DefaultConfig().WordsPerToken
	}
	return int(math.Ceil(float64(words) / wordsPerToken))
}

// truncateToTokens keeps the leading words of text that fit within limit tokens
func truncateToTokens(text string, limit int, wordsPerToken float64) string {
	words := strings.Fields(text)
	keep := int(math.Floor(float64(limit) * wordsPerToken))
	if keep >= len(words) {
		return text
	}
	if keep < 0 {
		keep = 0
	}
	for keep > 0 && estimateTokens(strings.Join(words[:keep], " "), wordsPerToken) > limit {
		keep--
	}
	return strings.Join(words[:keep], " ")
}
