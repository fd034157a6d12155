package queue

import (
	"slices"
	"time"
)

type counters struct {
	enqueued        int64
	completed       int64
	failed          int64
	retries         int64
	released        int64
	duplicates      int64
	processingTime  time.Duration
	lastCompletedAt time.Time
}

// Stats are cumulative counters plus derived rates
type Stats struct {
	TotalEnqueued         int64         `json:"total_enqueued"`
	TotalCompleted        int64         `json:"total_completed"`
	TotalFailed           int64         `json:"total_failed"`
	TotalRetries          int64         `json:"total_retries"`
	TotalReleased         int64         `json:"total_released"`
	DuplicatesSkipped     int64         `json:"duplicates_skipped"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	ThroughputPerHour     int           `json:"throughput_per_hour"`
	FailureRate           float64       `json:"failure_rate"`
	LastCompletedAt       time.Time     `json:"last_completed_at,omitzero"`
}

// QueueStatus is a point-in-time view of the queue
type QueueStatus struct {
	Tiers           map[Priority]int `json:"tiers"`
	Queued          int              `json:"queued"`
	Retrying        int              `json:"retrying"`
	InFlight        int              `json:"in_flight"`
	Completed       int              `json:"completed"`
	Failed          int              `json:"failed"`
	RecentCompleted []Item           `json:"recent_completed"`
	RecentFailed    []Item           `json:"recent_failed"`
	Stats           Stats            `json:"stats"`
	LastPersistedAt time.Time        `json:"last_persisted_at,omitzero"`
}

// Filter selects items for Details. Zero values match everything.
type Filter struct {
	Status   Status
	Priority Priority
	Limit    int
}

func (f Filter) match(it *Item) bool {
	if f.Status != "" && it.Status != f.Status {
		return false
	}
	if f.Priority != "" && it.Priority != f.Priority {
		return false
	}
	return true
}

const recentItems = 10

// Depth returns the number of items waiting, including retry-waiting ones
func (q *WorkQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queuedLocked()
}

// Stats returns the cumulative counters
func (q *WorkQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *WorkQueue) statsLocked() Stats {
	q.trimCompletionsLocked(q.now())

	s := Stats{
		TotalEnqueued:     q.counters.enqueued,
		TotalCompleted:    q.counters.completed,
		TotalFailed:       q.counters.failed,
		TotalRetries:      q.counters.retries,
		TotalReleased:     q.counters.released,
		DuplicatesSkipped: q.counters.duplicates,
		ThroughputPerHour: len(q.completions),
		LastCompletedAt:   q.counters.lastCompletedAt,
	}
	if q.counters.completed > 0 {
		s.AverageProcessingTime = q.counters.processingTime / time.Duration(q.counters.completed)
	}
	if processed := q.counters.completed + q.counters.failed; processed > 0 {
		s.FailureRate = float64(q.counters.failed) / float64(processed)
	}
	return s
}

// Status returns tier sizes, history sizes, the most recent completions and
// failures, and the cumulative stats
func (q *WorkQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := QueueStatus{
		Tiers:           make(map[Priority]int, numPriorities),
		Retrying:        q.retries.Len(),
		InFlight:        len(q.inFlight),
		Completed:       q.completed.len(),
		Failed:          q.failed.len(),
		RecentCompleted: recent(q.completed.list(), recentItems),
		RecentFailed:    recent(q.failed.list(), recentItems),
		Stats:           q.statsLocked(),
		LastPersistedAt: q.lastSaved,
	}
	for i, p := range Priorities {
		st.Tiers[p] = len(q.tiers[i])
		st.Queued += len(q.tiers[i])
	}
	return st
}

// Details lists items matching f across every state: tiers in priority order,
// then retry-waiting, in-flight, completed and failed
func (q *WorkQueue) Details(f Filter) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0)
	add := func(items []*Item) bool {
		for _, it := range items {
			if f.Limit > 0 && len(out) >= f.Limit {
				return false
			}
			if f.match(it) {
				out = append(out, it.clone())
			}
		}
		return f.Limit <= 0 || len(out) < f.Limit
	}

	for _, tier := range q.tiers {
		if !add(tier) {
			return out
		}
	}
	if !add(q.retries.items()) {
		return out
	}
	if !add(q.inFlightLocked()) {
		return out
	}
	if !add(q.completed.list()) {
		return out
	}
	add(q.failed.list())
	return out
}

// inFlightLocked returns in-flight items ordered by processing start
func (q *WorkQueue) inFlightLocked() []*Item {
	items := make([]*Item, 0, len(q.inFlight))
	for _, it := range q.inFlight {
		items = append(items, it)
	}
	sortByStart(items)
	return items
}

// recent returns the last n entries newest first
func recent(items []*Item, n int) []Item {
	out := make([]Item, 0, n)
	for i := len(items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, items[i].clone())
	}
	return out
}

func sortByStart(items []*Item) {
	slices.SortFunc(items, func(a, b *Item) int {
		if c := a.ProcessingStarted.Compare(b.ProcessingStarted); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
