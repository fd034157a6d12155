package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/resume-pipeline/internal/events"
)

// SnapshotVersion is bumped whenever the Snapshot layout changes incompatibly
const SnapshotVersion = 1

// Snapshot is the durable form of the queue. In-flight items are not part of
// it: after a restart they are neither queued nor retried, and only their
// count survives for diagnostics.
type Snapshot struct {
	Version       int                 `json:"version"`
	SavedAt       time.Time           `json:"saved_at"`
	Tiers         map[Priority][]Item `json:"tiers"`
	Retrying      []Item              `json:"retrying"`
	Completed     []Item              `json:"completed"`
	Failed        []Item              `json:"failed"`
	Stats         SnapshotStats       `json:"stats"`
	InFlightCount int                 `json:"in_flight_count"`
}

// SnapshotStats holds the counters that survive a restart
type SnapshotStats struct {
	TotalEnqueued     int64         `json:"total_enqueued"`
	TotalCompleted    int64         `json:"total_completed"`
	TotalFailed       int64         `json:"total_failed"`
	TotalRetries      int64         `json:"total_retries"`
	TotalReleased     int64         `json:"total_released"`
	DuplicatesSkipped int64         `json:"duplicates_skipped"`
	ProcessingTime    time.Duration `json:"processing_time"`
	LastCompletedAt   time.Time     `json:"last_completed_at,omitzero"`
}

// SnapshotStore persists queue snapshots. Load returns ErrSnapshotNotFound
// when nothing has been saved yet.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

// Load restores the queue from the store. It must be called before the queue
// accepts work. A missing snapshot is not an error.
func (q *WorkQueue) Load(ctx context.Context) error {
	if q.store == nil {
		return nil
	}

	snap, err := q.store.Load(ctx)
	if errors.Is(err, ErrSnapshotNotFound) {
		q.logger.InfoContext(ctx, "No queue snapshot found, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load snapshot: %w", ErrPersistence, err)
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: unsupported snapshot version %d", ErrPersistence, snap.Version)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, p := range Priorities {
		q.tiers[i] = q.tiers[i][:0]
		for _, it := range snap.Tiers[p] {
			restored := it
			restored.Status = StatusQueued
			q.tiers[i] = append(q.tiers[i], &restored)
			q.hashes[restored.ContentHash] = restored.ID
		}
	}
	for _, it := range snap.Retrying {
		restored := it
		restored.Status = StatusRetrying
		q.retries.schedule(&restored)
		q.hashes[restored.ContentHash] = restored.ID
	}
	for _, it := range snap.Completed {
		restored := it
		if evicted, ok := q.completed.push(&restored); ok {
			q.forgetHashLocked(evicted)
		}
		q.hashes[restored.ContentHash] = restored.ID
	}
	for _, it := range snap.Failed {
		restored := it
		q.failed.push(&restored)
	}

	q.counters = counters{
		enqueued:        snap.Stats.TotalEnqueued,
		completed:       snap.Stats.TotalCompleted,
		failed:          snap.Stats.TotalFailed,
		retries:         snap.Stats.TotalRetries,
		released:        snap.Stats.TotalReleased,
		duplicates:      snap.Stats.DuplicatesSkipped,
		processingTime:  snap.Stats.ProcessingTime,
		lastCompletedAt: snap.Stats.LastCompletedAt,
	}
	q.lastSaved = snap.SavedAt

	q.logger.InfoContext(ctx, "Queue restored from snapshot",
		slog.Time("saved_at", snap.SavedAt),
		slog.Int("queued", q.queuedLocked()),
		slog.Int("completed_history", q.completed.len()),
		slog.Int("failed_history", q.failed.len()),
	)
	if snap.InFlightCount > 0 {
		q.logger.WarnContext(ctx, "Items in flight at last snapshot were not restored",
			slog.Int("in_flight_count", snap.InFlightCount),
		)
	}
	return nil
}

// Snapshot captures the current queue state
func (q *WorkQueue) Snapshot() *Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *WorkQueue) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Version:       SnapshotVersion,
		SavedAt:       q.now(),
		Tiers:         make(map[Priority][]Item, numPriorities),
		Retrying:      cloneAll(q.retries.items()),
		Completed:     cloneAll(q.completed.list()),
		Failed:        cloneAll(q.failed.list()),
		InFlightCount: len(q.inFlight),
		Stats: SnapshotStats{
			TotalEnqueued:     q.counters.enqueued,
			TotalCompleted:    q.counters.completed,
			TotalFailed:       q.counters.failed,
			TotalRetries:      q.counters.retries,
			TotalReleased:     q.counters.released,
			DuplicatesSkipped: q.counters.duplicates,
			ProcessingTime:    q.counters.processingTime,
			LastCompletedAt:   q.counters.lastCompletedAt,
		},
	}
	for i, p := range Priorities {
		snap.Tiers[p] = cloneAll(q.tiers[i])
	}
	return snap
}

// Persist writes a snapshot to the store. Failures are returned wrapped in
// ErrPersistence and leave the queue untouched.
func (q *WorkQueue) Persist(ctx context.Context) error {
	if q.store == nil {
		return nil
	}

	snap := q.Snapshot()
	if err := q.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("%w: save snapshot: %w", ErrPersistence, err)
	}

	q.mu.Lock()
	q.lastSaved = snap.SavedAt
	q.mu.Unlock()

	q.observer.OnQueueEvent(events.QueueEvent{
		Kind:  events.QueueSnapshotSaved,
		Count: snap.itemCount(),
		At:    snap.SavedAt,
	})
	return nil
}

// Purge drops completed and failed history older than HistoryMaxAge and
// returns how many entries were removed
func (q *WorkQueue) Purge() int {
	q.mu.Lock()

	cutoff := q.now().Add(-q.cfg.HistoryMaxAge)
	old := func(it *Item) bool {
		return it.UpdatedAt.Before(cutoff)
	}

	purgedCompleted := q.completed.removeFunc(old)
	for _, it := range purgedCompleted {
		q.forgetHashLocked(it)
	}
	purged := len(purgedCompleted) + len(q.failed.removeFunc(old))
	q.mu.Unlock()

	if purged > 0 {
		q.logger.Info("Purged old queue history",
			slog.Int("purged", purged),
			slog.Time("cutoff", cutoff),
		)
		q.observer.OnQueueEvent(events.QueueEvent{
			Kind:  events.QueueItemsPurged,
			Count: purged,
			At:    q.now(),
		})
	}
	return purged
}

// Run persists on PersistInterval and purges on PurgeInterval until ctx is
// cancelled. Persistence failures are logged and retried on the next tick.
func (q *WorkQueue) Run(ctx context.Context) {
	persistEvery := q.cfg.PersistInterval
	if persistEvery <= 0 {
		persistEvery = DefaultConfig().PersistInterval
	}
	purgeEvery := q.cfg.PurgeInterval
	if purgeEvery <= 0 {
		purgeEvery = DefaultConfig().PurgeInterval
	}

	persistTicker := time.NewTicker(persistEvery)
	defer persistTicker.Stop()
	purgeTicker := time.NewTicker(purgeEvery)
	defer purgeTicker.Stop()

	q.logger.Info("Queue maintenance started",
		slog.Duration("persist_interval", persistEvery),
		slog.Duration("purge_interval", purgeEvery),
	)

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Queue maintenance stopped")
			return
		case <-persistTicker.C:
			if err := q.Persist(ctx); err != nil {
				q.logger.Error("Failed to persist queue snapshot",
					slog.String("error", err.Error()),
				)
			}
		case <-purgeTicker.C:
			q.Purge()
		}
	}
}

func (s *Snapshot) itemCount() int {
	n := len(s.Retrying) + len(s.Completed) + len(s.Failed)
	for _, items := range s.Tiers {
		n += len(items)
	}
	return n
}

func cloneAll(items []*Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, it.clone())
	}
	return out
}

// MemoryStore keeps the latest snapshot in memory. It backs the "memory"
// persistence driver and tests.
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
	err  error
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailWith makes subsequent Save calls return err; nil restores normal behaviour
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snap = snap
	return nil
}

func (m *MemoryStore) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, ErrSnapshotNotFound
	}
	return m.snap, nil
}
