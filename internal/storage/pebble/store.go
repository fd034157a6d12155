// Package pebblestore persists queue snapshots in an embedded Pebble database.
package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/cuongbtq/resume-pipeline/internal/queue"
)

var (
	latestKey   = []byte("queue/snapshot/latest")
	previousKey = []byte("queue/snapshot/previous")
)

// Options configures the store
type Options struct {
	// DataDir is the Pebble database directory
	DataDir string
	// Sync forces a WAL fsync on every save
	Sync bool
}

// Store keeps the latest snapshot and the one before it, so a torn or
// undecodable latest entry can fall back to the previous save.
type Store struct {
	db     *pebble.DB
	sync   bool
	logger *slog.Logger
}

var _ queue.SnapshotStore = (*Store)(nil)

// Open creates or opens the database at opts.DataDir
func Open(opts Options, logger *slog.Logger) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: data dir is required")
	}

	db, err := pebble.Open(opts.DataDir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", opts.DataDir, err)
	}

	logger.Info("Opened pebble snapshot store",
		slog.String("data_dir", opts.DataDir),
		slog.Bool("sync", opts.Sync),
	)

	return &Store{
		db:     db,
		sync:   opts.Sync,
		logger: logger.With(slog.String("component", "pebble_store")),
	}, nil
}

// Save writes snap as the latest snapshot and keeps the prior one
func (s *Store) Save(ctx context.Context, snap *queue.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	start := time.Now()
	b := s.db.NewBatch()
	defer b.Close()

	prev, err := s.get(latestKey)
	switch {
	case err == nil:
		// only a decodable entry may replace the fallback
		if json.Unmarshal(prev, &queue.Snapshot{}) != nil {
			s.logger.Warn("Latest snapshot unreadable, keeping previous as fallback")
			break
		}
		if err := b.Set(previousKey, prev, nil); err != nil {
			return err
		}
	case !errors.Is(err, pebble.ErrNotFound):
		return fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	if err := b.Set(latestKey, payload, nil); err != nil {
		return err
	}

	mode := pebble.NoSync
	if s.sync {
		mode = pebble.Sync
	}
	if err := b.Commit(mode); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.logger.Debug("Snapshot saved",
		slog.Int("bytes", len(payload)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Load returns the latest decodable snapshot
func (s *Store) Load(ctx context.Context) (*queue.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap, err := s.decode(latestKey)
	if err == nil {
		return snap, nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, queue.ErrSnapshotNotFound
	}

	s.logger.Warn("Latest snapshot unreadable, falling back to previous",
		slog.String("error", err.Error()),
	)
	snap, prevErr := s.decode(previousKey)
	if prevErr != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) decode(key []byte) (*queue.Snapshot, error) {
	raw, err := s.get(key)
	if err != nil {
		return nil, err
	}
	var snap queue.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// get copies the value for key
func (s *Store) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}
