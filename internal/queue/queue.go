// Package queue holds the durable, priority-ordered work queue that feeds the
// batch scheduler. Items wait in one of four priority tiers, move to in-flight
// when dequeued, and end in a bounded completed or failed history. Failed items
// are retried after a delay by re-inserting them at the front of their tier.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/resume-pipeline/internal/events"
)

// Config controls queue limits and the retry and persistence cadence
type Config struct {
	MaxQueueSize         int
	MaxRetries           int
	RetryDelay           time.Duration
	CompletedHistorySize int
	FailedHistorySize    int
	HistoryMaxAge        time.Duration
	PersistInterval      time.Duration
	PurgeInterval        time.Duration
}

// DefaultConfig returns the limits used when nothing is configured
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:         1000,
		MaxRetries:           3,
		RetryDelay:           time.Minute,
		CompletedHistorySize: 1000,
		FailedHistorySize:    500,
		HistoryMaxAge:        24 * time.Hour,
		PersistInterval:      30 * time.Second,
		PurgeInterval:        time.Hour,
	}
}

// Option customises a WorkQueue
type Option func(*WorkQueue)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(q *WorkQueue) {
		q.now = now
	}
}

// WithObserver sends queue changes to o
func WithObserver(o events.QueueObserver) Option {
	return func(q *WorkQueue) {
		q.observer = o
	}
}

// WithIDGenerator replaces the uuid generator
func WithIDGenerator(fn func() string) Option {
	return func(q *WorkQueue) {
		q.newID = fn
	}
}

// WorkQueue is safe for concurrent use by producers and the orchestrator
type WorkQueue struct {
	cfg      Config
	store    SnapshotStore
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	observer events.QueueObserver

	mu          sync.Mutex
	tiers       [numPriorities][]*Item
	retries     retryHeap
	inFlight    map[string]*Item
	completed   *ring[*Item]
	failed      *ring[*Item]
	hashes      map[uint64]string
	counters    counters
	completions []time.Time
	lastSaved   time.Time
}

// New creates an empty queue. store may be nil, in which case nothing is persisted.
func New(cfg Config, store SnapshotStore, logger *slog.Logger, opts ...Option) *WorkQueue {
	q := &WorkQueue{
		cfg:       cfg,
		store:     store,
		logger:    logger.With(slog.String("component", "work_queue")),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
		observer:  events.Nop{},
		inFlight:  make(map[string]*Item),
		completed: newRing[*Item](cfg.CompletedHistorySize),
		failed:    newRing[*Item](cfg.FailedHistorySize),
		hashes:    make(map[uint64]string),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue validates, deduplicates and appends items to the tail of the tier
// named by opts.Priority. Duplicates are skipped without error. The call is
// all-or-nothing with respect to capacity: when the accepted items would not
// fit, none are added and ErrCapacityExceeded is returned.
func (q *WorkQueue) Enqueue(ctx context.Context, items []NewItem, opts EnqueueOptions) ([]string, error) {
	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	tier, ok := priority.index()
	if !ok {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, priority)
	}

	for i, ni := range items {
		if err := ni.validate(); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrValidation, i, err)
		}
	}

	var pending []events.QueueEvent
	defer func() { q.emit(pending) }()

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	accepted := make([]*Item, 0, len(items))
	seen := make(map[uint64]struct{}, len(items))
	duplicates := 0

	for _, ni := range items {
		hash := ni.contentHash()
		_, known := q.hashes[hash]
		_, repeated := seen[hash]
		if known || repeated {
			duplicates++
			pending = append(pending, events.QueueEvent{
				Kind:     events.QueueItemDuplicate,
				ItemID:   q.hashes[hash],
				Priority: string(priority),
				At:       now,
			})
			continue
		}
		seen[hash] = struct{}{}

		accepted = append(accepted, &Item{
			ID: q.newID(),
			Payload: Payload{
				SourceRef: ni.SourceRef,
				Text:      ni.Text,
				Content:   ni.Content,
			},
			Priority:  priority,
			Status:    StatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
			Metadata: Metadata{
				Filename:    ni.Filename,
				Size:        ni.size(),
				ContentType: ni.ContentType,
				Source:      opts.Source,
				JobContext:  opts.JobContext,
			},
			ContentHash: hash,
		})
	}

	if queued := q.queuedLocked(); queued+len(accepted) > q.cfg.MaxQueueSize {
		pending = nil
		q.logger.WarnContext(ctx, "Queue capacity exceeded",
			slog.Int("queued", queued),
			slog.Int("requested", len(accepted)),
			slog.Int("max_queue_size", q.cfg.MaxQueueSize),
		)
		return nil, fmt.Errorf("%w: %d queued, %d requested, max %d",
			ErrCapacityExceeded, queued, len(accepted), q.cfg.MaxQueueSize)
	}

	ids := make([]string, 0, len(accepted))
	for _, it := range accepted {
		q.tiers[tier] = append(q.tiers[tier], it)
		q.hashes[it.ContentHash] = it.ID
		ids = append(ids, it.ID)
		pending = append(pending, events.QueueEvent{
			Kind:     events.QueueItemEnqueued,
			ItemID:   it.ID,
			Priority: string(priority),
			At:       now,
		})
	}
	q.counters.enqueued += int64(len(accepted))
	q.counters.duplicates += int64(duplicates)

	q.logger.InfoContext(ctx, "Items enqueued",
		slog.Int("accepted", len(accepted)),
		slog.Int("duplicates", duplicates),
		slog.String("priority", string(priority)),
		slog.Int("queued", q.queuedLocked()),
	)

	return ids, nil
}

// Dequeue removes up to n items in strict tier order, FIFO within a tier, and
// marks them in flight. Due retries are promoted first.
func (q *WorkQueue) Dequeue(n int) []Item {
	if n <= 0 {
		return nil
	}

	var pending []events.QueueEvent
	defer func() { q.emit(pending) }()

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	pending = q.promoteLocked(now)

	out := make([]Item, 0, n)
	for tier := 0; tier < numPriorities && len(out) < n; tier++ {
		for len(q.tiers[tier]) > 0 && len(out) < n {
			it := q.tiers[tier][0]
			q.tiers[tier][0] = nil
			q.tiers[tier] = q.tiers[tier][1:]

			it.Status = StatusProcessing
			it.ProcessingStarted = now
			it.UpdatedAt = now
			q.inFlight[it.ID] = it
			out = append(out, it.clone())

			pending = append(pending, events.QueueEvent{
				Kind:       events.QueueItemDequeued,
				ItemID:     it.ID,
				Priority:   string(it.Priority),
				RetryCount: it.RetryCount,
				At:         now,
			})
		}
	}
	return out
}

// MarkCompleted records result for an in-flight item and moves it to the completed history
func (q *WorkQueue) MarkCompleted(id string, result []byte) error {
	var pending []events.QueueEvent
	defer func() { q.emit(pending) }()

	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.inFlight[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInFlight, id)
	}
	delete(q.inFlight, id)

	now := q.now()
	it.Status = StatusCompleted
	it.Result = append([]byte(nil), result...)
	it.LastError = ""
	it.ProcessingCompleted = now
	it.ProcessingDuration = now.Sub(it.ProcessingStarted)
	it.UpdatedAt = now

	if evicted, ok := q.completed.push(it); ok {
		q.forgetHashLocked(evicted)
	}

	q.counters.completed++
	q.counters.processingTime += it.ProcessingDuration
	q.counters.lastCompletedAt = now
	q.completions = append(q.completions, now)
	q.trimCompletionsLocked(now)

	pending = append(pending, events.QueueEvent{
		Kind:       events.QueueItemCompleted,
		ItemID:     it.ID,
		Priority:   string(it.Priority),
		RetryCount: it.RetryCount,
		At:         now,
	})
	return nil
}

// MarkFailed records cause for an in-flight item. The item is scheduled for a
// delayed retry at the front of its tier while it has retries left, otherwise
// it moves to the failed history.
func (q *WorkQueue) MarkFailed(id string, cause error) error {
	var pending []events.QueueEvent
	defer func() { q.emit(pending) }()

	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.inFlight[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInFlight, id)
	}
	delete(q.inFlight, id)

	now := q.now()
	it.RetryCount++
	it.UpdatedAt = now
	if cause != nil {
		it.LastError = cause.Error()
	}

	if it.RetryCount < q.cfg.MaxRetries {
		it.Status = StatusRetrying
		it.RetryAt = now.Add(q.cfg.RetryDelay)
		q.retries.schedule(it)
		q.counters.retries++

		pending = append(pending, events.QueueEvent{
			Kind:       events.QueueItemRetrying,
			ItemID:     it.ID,
			Priority:   string(it.Priority),
			RetryCount: it.RetryCount,
			Error:      it.LastError,
			At:         now,
		})
		return nil
	}

	it.Status = StatusFailed
	it.ProcessingCompleted = now
	it.ProcessingDuration = now.Sub(it.ProcessingStarted)
	it.RetryAt = time.Time{}
	q.failed.push(it)
	// a permanently failed document may be resubmitted
	q.forgetHashLocked(it)
	q.counters.failed++

	pending = append(pending, events.QueueEvent{
		Kind:       events.QueueItemFailed,
		ItemID:     it.ID,
		Priority:   string(it.Priority),
		RetryCount: it.RetryCount,
		Error:      it.LastError,
		At:         now,
	})
	return nil
}

// Release returns in-flight items to the front of their tier without
// consuming a retry. Unknown ids are skipped and reported in the error.
func (q *WorkQueue) Release(ids []string, reason string) error {
	var pending []events.QueueEvent
	defer func() { q.emit(pending) }()

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var missing []string

	// walk backwards so the released items keep their relative order at the front
	for i := len(ids) - 1; i >= 0; i-- {
		it, ok := q.inFlight[ids[i]]
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		delete(q.inFlight, it.ID)

		it.Status = StatusQueued
		it.ProcessingStarted = time.Time{}
		it.UpdatedAt = now
		q.pushFrontLocked(it)
		q.counters.released++

		pending = append(pending, events.QueueEvent{
			Kind:     events.QueueItemReleased,
			ItemID:   it.ID,
			Priority: string(it.Priority),
			Error:    reason,
			At:       now,
		})
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrNotInFlight, missing)
	}
	return nil
}

// PromoteDueRetries moves every retry whose delay has elapsed to the front of
// its tier and returns how many moved
func (q *WorkQueue) PromoteDueRetries() int {
	var pending []events.QueueEvent
	defer func() { q.emit(pending) }()

	q.mu.Lock()
	defer q.mu.Unlock()

	pending = q.promoteLocked(q.now())
	return len(pending)
}

func (q *WorkQueue) promoteLocked(now time.Time) []events.QueueEvent {
	var due []*Item
	for next := q.retries.peek(); next != nil && !next.RetryAt.After(now); next = q.retries.peek() {
		due = append(due, q.retries.pop())
	}

	// insert in reverse due order so the earliest-due retry ends up first
	var promoted []events.QueueEvent
	for i := len(due) - 1; i >= 0; i-- {
		it := due[i]
		it.Status = StatusQueued
		it.RetryAt = time.Time{}
		it.UpdatedAt = now
		q.pushFrontLocked(it)
	}
	for _, it := range due {
		promoted = append(promoted, events.QueueEvent{
			Kind:       events.QueueItemEnqueued,
			ItemID:     it.ID,
			Priority:   string(it.Priority),
			RetryCount: it.RetryCount,
			At:         now,
		})
	}
	return promoted
}

func (q *WorkQueue) pushFrontLocked(it *Item) {
	tier, ok := it.Priority.index()
	if !ok {
		tier, _ = PriorityNormal.index()
	}
	q.tiers[tier] = append([]*Item{it}, q.tiers[tier]...)
}

func (q *WorkQueue) queuedLocked() int {
	n := q.retries.Len()
	for _, tier := range q.tiers {
		n += len(tier)
	}
	return n
}

func (q *WorkQueue) forgetHashLocked(it *Item) {
	if id, ok := q.hashes[it.ContentHash]; ok && id == it.ID {
		delete(q.hashes, it.ContentHash)
	}
}

func (q *WorkQueue) trimCompletionsLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(q.completions) && q.completions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		q.completions = append(q.completions[:0], q.completions[i:]...)
	}
}

func (q *WorkQueue) emit(pending []events.QueueEvent) {
	for _, e := range pending {
		q.observer.OnQueueEvent(e)
	}
}
