package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Scheduler packs items into batches and keeps rolling statistics about the
// batches it produced. It is safe for concurrent use.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	newID  func() string

	mu    sync.Mutex
	stats rollingStats
}

// New creates a Scheduler
func New(cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "batch_scheduler")),
		newID:  func() string { return uuid.NewString() },
	}
}

// EstimateTokens approximates the token cost of text
func (s *Scheduler) EstimateTokens(text string) int {
	return estimateTokens(text, s.cfg.WordsPerToken)
}

// Overhead returns the fixed token cost of one request carrying sharedContext
func (s *Scheduler) Overhead(sharedContext string) int {
	return s.EstimateTokens(sharedContext) + s.cfg.PromptTemplateTokens + s.cfg.SafetyBufferTokens
}

// CreateBatches groups items by similarity and packs each group into batches
// whose estimated tokens plus overhead stay within MaxTokensPerRequest.
// Items larger than the whole budget are truncated to fit. Item order is
// preserved within each group.
func (s *Scheduler) CreateBatches(items []Item, sharedContext string) (Result, error) {
	overhead := s.Overhead(sharedContext)
	available := s.cfg.MaxTokensPerRequest - overhead
	res := Result{OverheadTokens: overhead, AvailableTokens: available}

	if available <= 0 {
		return res, fmt.Errorf("%w: overhead %d, max %d", ErrNoBudget, overhead, s.cfg.MaxTokensPerRequest)
	}
	if len(items) == 0 {
		return res, nil
	}

	prepared := make([]Item, len(items))
	for i, it := range items {
		if it.EstimatedTokens <= 0 {
			it.EstimatedTokens = s.EstimateTokens(it.Text)
		}
		prepared[i] = it
	}

	groups := [][]Item{prepared}
	if s.cfg.GroupingEnabled && len(prepared) >= s.cfg.GroupingThreshold {
		groups = groupItems(prepared, s.cfg.SimilarityThreshold, s.cfg.MinBatchSize)
	}

	var packed [][]Item
	for _, group := range groups {
		packed = append(packed, s.pack(group, available)...)
	}
	packed = s.validate(packed, available)

	truncated := 0
	for _, members := range packed {
		b := Batch{
			ID:             s.newID(),
			Items:          members,
			OverheadTokens: overhead,
		}
		for _, it := range members {
			b.EstimatedTokens += it.EstimatedTokens
			if it.Truncated {
				truncated++
			}
		}
		if s.cfg.MaxTokensPerRequest > 0 {
			b.TokenUtilization = float64(b.TotalTokens()) / float64(s.cfg.MaxTokensPerRequest) * 100
		}
		res.Batches = append(res.Batches, b)
	}

	s.record(res.Batches, truncated)

	s.logger.Debug("Batches created",
		slog.Int("items", len(items)),
		slog.Int("groups", len(groups)),
		slog.Int("batches", len(res.Batches)),
		slog.Int("overhead_tokens", overhead),
		slog.Int("available_tokens", available),
		slog.Int("truncated", truncated),
	)
	return res, nil
}

// pack accumulates items greedily, closing a batch on budget overflow or when
// it reaches MaxBatchSize. A trailing batch below MinBatchSize borrows items
// from the tail of the previous batch.
func (s *Scheduler) pack(items []Item, available int) [][]Item {
	var (
		batches [][]Item
		current []Item
		tokens  int
	)
	for _, it := range items {
		full := s.cfg.MaxBatchSize > 0 && len(current) >= s.cfg.MaxBatchSize
		if len(current) > 0 && (tokens+it.EstimatedTokens > available || full) {
			batches = append(batches, current)
			current, tokens = nil, 0
		}
		current = append(current, it)
		tokens += it.EstimatedTokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	if n := len(batches); n >= 2 && len(batches[n-1]) < s.cfg.MinBatchSize {
		batches[n-2], batches[n-1] = s.rebalance(batches[n-2], batches[n-1], available)
	}
	return batches
}

// validate re-checks every batch against the budget. Over-budget batches are
// re-packed, and a lone item over budget is truncated.
func (s *Scheduler) validate(batches [][]Item, available int) [][]Item {
	out := make([][]Item, 0, len(batches))
	for _, b := range batches {
		if sumTokens(b) <= available {
			out = append(out, b)
			continue
		}
		if len(b) > 1 {
			for _, sub := range s.pack(b, available) {
				out = append(out, s.validate([][]Item{sub}, available)...)
			}
			continue
		}

		it := b[0]
		s.logger.Warn("Item exceeds token budget, truncating",
			slog.String("item_id", it.ID),
			slog.Int("estimated_tokens", it.EstimatedTokens),
			slog.Int("available_tokens", available),
		)
		it.Text = truncateToTokens(it.Text, available, s.wordsPerToken())
		it.EstimatedTokens = s.EstimateTokens(it.Text)
		if it.EstimatedTokens > available {
			it.EstimatedTokens = available
		}
		it.Truncated = true
		out = append(out, []Item{it})
	}
	return out
}

func (s *Scheduler) wordsPerToken() float64 {
	if s.cfg.WordsPerToken <= 0 {
		return DefaultConfig().WordsPerToken
	}
	return s.cfg.WordsPerToken
}

// rebalance moves items from the end of prev to the front of last until last
// reaches MinBatchSize, prev would drop below it, or last would overflow the
// budget. Greedy closing guarantees prev+last never fits in one batch.
func (s *Scheduler) rebalance(prev, last []Item, available int) ([]Item, []Item) {
	prev = append([]Item(nil), prev...)
	last = append([]Item(nil), last...)
	lastTokens := sumTokens(last)

	for len(last) < s.cfg.MinBatchSize && len(prev) > s.cfg.MinBatchSize {
		moved := prev[len(prev)-1]
		if lastTokens+moved.EstimatedTokens > available {
			break
		}
		prev = prev[:len(prev)-1]
		last = append([]Item{moved}, last...)
		lastTokens += moved.EstimatedTokens
	}
	return prev, last
}

func sumTokens(items []Item) int {
	total := 0
	for _, it := range items {
		total += it.EstimatedTokens
	}
	return total
}
