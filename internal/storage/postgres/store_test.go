package postgresstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/resume-pipeline/internal/queue"
)

// openTestDB connects to TEST_DATABASE_URL and skips the test when it is unset
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Exec(`DROP TABLE IF EXISTS queue_snapshots`)
		db.Close()
	})
	return db
}

func TestStore_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	store := NewStore(db, logger)
	require.NoError(t, store.EnsureSchema(ctx))

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, queue.ErrSnapshotNotFound)

	q := queue.New(queue.DefaultConfig(), store, logger)
	_, err = q.Enqueue(ctx, []queue.NewItem{{Text: "resume one"}, {Text: "resume two"}}, queue.EnqueueOptions{Priority: queue.PriorityUrgent})
	require.NoError(t, err)
	require.NoError(t, q.Persist(ctx))

	// a second save overwrites the same row
	require.NoError(t, q.Persist(ctx))

	restored := queue.New(queue.DefaultConfig(), store, logger)
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, 2, restored.Status().Tiers[queue.PriorityUrgent])

	var rows int
	require.NoError(t, db.Get(&rows, `SELECT COUNT(*) FROM queue_snapshots`))
	assert.Equal(t, 1, rows)
}

func TestCountItems(t *testing.T) {
	snap := &queue.Snapshot{
		Tiers: map[queue.Priority][]queue.Item{
			queue.PriorityHigh: {{ID: "a"}, {ID: "b"}},
			queue.PriorityLow:  {{ID: "c"}},
		},
		Retrying:  []queue.Item{{ID: "d"}},
		Completed: []queue.Item{{ID: "e"}},
	}
	assert.Equal(t, 5, countItems(snap))
}
