// Package postgresstore persists queue snapshots in PostgreSQL.
package postgresstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/resume-pipeline/internal/queue"
)

const snapshotID = "latest"

const schema = `
	CREATE TABLE IF NOT EXISTS queue_snapshots (
		id         TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		payload    JSONB NOT NULL,
		item_count INTEGER NOT NULL,
		saved_at   TIMESTAMPTZ NOT NULL
	)
`

type snapshotRow struct {
	ID        string    `db:"id"`
	Version   int       `db:"version"`
	Payload   string    `db:"payload"`
	ItemCount int       `db:"item_count"`
	SavedAt   time.Time `db:"saved_at"`
}

// Store upserts a single snapshot row
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ queue.SnapshotStore = (*Store)(nil)

// NewStore creates a Store on an open connection
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With(slog.String("component", "postgres_snapshot_store")),
	}
}

// EnsureSchema creates the snapshot table when missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create queue_snapshots table: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot
func (s *Store) Save(ctx context.Context, snap *queue.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	row := snapshotRow{
		ID:        snapshotID,
		Version:   snap.Version,
		Payload:   string(payload),
		ItemCount: countItems(snap),
		SavedAt:   snap.SavedAt,
	}

	query := `
		INSERT INTO queue_snapshots (id, version, payload, item_count, saved_at)
		VALUES (:id, :version, :payload, :item_count, :saved_at)
		ON CONFLICT (id) DO UPDATE
		SET version = EXCLUDED.version,
		    payload = EXCLUDED.payload,
		    item_count = EXCLUDED.item_count,
		    saved_at = EXCLUDED.saved_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug("Snapshot saved",
		slog.Int("bytes", len(payload)),
		slog.Int("item_count", row.ItemCount),
	)
	return nil
}

// Load returns the stored snapshot or queue.ErrSnapshotNotFound
func (s *Store) Load(ctx context.Context) (*queue.Snapshot, error) {
	query := `
		SELECT id, version, payload, item_count, saved_at
		FROM queue_snapshots
		WHERE id = $1
	`

	var row snapshotRow
	if err := s.db.GetContext(ctx, &row, query, snapshotID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queue.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap queue.Snapshot
	if err := json.Unmarshal([]byte(row.Payload), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func countItems(snap *queue.Snapshot) int {
	n := len(snap.Retrying) + len(snap.Completed) + len(snap.Failed)
	for _, items := range snap.Tiers {
		n += len(items)
	}
	return n
}
