package scheduler

import (
	"fmt"
)

const (
	statsWindow          = 100
	minRecommendSamples  = 5
	lowUtilization       = 50.0
	highUtilization      = 95.0
	fullByCountThreshold = 0.5
)

type batchRecord struct {
	size        int
	utilization float64
}

type rollingStats struct {
	recent         []batchRecord
	batchesCreated int64
	itemsBatched   int64
	truncated      int64
	runs           int64
}

// Stats summarises recent scheduling behaviour
type Stats struct {
	Runs               int64   `json:"runs"`
	BatchesCreated     int64   `json:"batches_created"`
	ItemsBatched       int64   `json:"items_batched"`
	ItemsTruncated     int64   `json:"items_truncated"`
	AverageBatchSize   float64 `json:"average_batch_size"`
	AverageUtilization float64 `json:"average_utilization"`
	FullByCountRatio   float64 `json:"full_by_count_ratio"`
	WindowSize         int     `json:"window_size"`
}

func (s *Scheduler) record(batches []Batch, truncated int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.runs++
	s.stats.truncated += int64(truncated)
	for _, b := range batches {
		s.stats.batchesCreated++
		s.stats.itemsBatched += int64(len(b.Items))
		s.stats.recent = append(s.stats.recent, batchRecord{size: len(b.Items), utilization: b.TokenUtilization})
	}
	if over := len(s.stats.recent) - statsWindow; over > 0 {
		s.stats.recent = append(s.stats.recent[:0], s.stats.recent[over:]...)
	}
}

// Stats returns cumulative counters and averages over the recent window
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Runs:           s.stats.runs,
		BatchesCreated: s.stats.batchesCreated,
		ItemsBatched:   s.stats.itemsBatched,
		ItemsTruncated: s.stats.truncated,
		WindowSize:     len(s.stats.recent),
	}
	if len(s.stats.recent) == 0 {
		return st
	}

	var size, util float64
	full := 0
	for _, r := range s.stats.recent {
		size += float64(r.size)
		util += r.utilization
		if s.cfg.MaxBatchSize > 0 && r.size >= s.cfg.MaxBatchSize {
			full++
		}
	}
	n := float64(len(s.stats.recent))
	st.AverageBatchSize = size / n
	st.AverageUtilization = util / n
	st.FullByCountRatio = float64(full) / n
	return st
}

// Recommendations suggests configuration changes based on recent batches
func (s *Scheduler) Recommendations() []string {
	st := s.Stats()
	if st.WindowSize < minRecommendSamples {
		return nil
	}

	var recs []string
	if st.AverageUtilization < lowUtilization && st.FullByCountRatio >= fullByCountThreshold {
		recs = append(recs, fmt.Sprintf(
			"average utilization is %.1f%% while %.0f%% of batches hit max_batch_size %d; consider raising max_batch_size",
			st.AverageUtilization, st.FullByCountRatio*100, s.cfg.MaxBatchSize))
	}
	if st.AverageUtilization >= highUtilization {
		recs = append(recs, fmt.Sprintf(
			"average utilization is %.1f%%; consider raising safety_buffer_tokens above %d",
			st.AverageUtilization, s.cfg.SafetyBufferTokens))
	}
	if st.AverageBatchSize < float64(s.cfg.MinBatchSize) {
		recs = append(recs, fmt.Sprintf(
			"average batch size %.1f is below min_batch_size %d; consider raising grouping_threshold or lowering similarity_threshold",
			st.AverageBatchSize, s.cfg.MinBatchSize))
	}
	if st.ItemsTruncated > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d items were truncated to fit the budget; consider raising max_tokens_per_request above %d",
			st.ItemsTruncated, s.cfg.MaxTokensPerRequest))
	}
	return recs
}
