package pebblestore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/resume-pipeline/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(Options{DataDir: dir, Sync: true}, testLogger())
	require.NoError(t, err)
	return s
}

func TestStore_LoadEmpty(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, queue.ErrSnapshotNotFound)
}

func TestStore_QueueRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTestStore(t, dir)
	q := queue.New(queue.DefaultConfig(), s, testLogger())
	ids, err := q.Enqueue(ctx, []queue.NewItem{
		{Text: "Go engineer resume", Filename: "a.txt"},
		{Content: []byte("<html><body>Designer</body></html>"), Filename: "b.html", ContentType: "text/html"},
	}, queue.EnqueueOptions{Priority: queue.PriorityHigh, JobContext: "platform team"})
	require.NoError(t, err)
	require.NoError(t, q.Persist(ctx))
	require.NoError(t, s.Close())

	reopened := openTestStore(t, dir)
	defer reopened.Close()
	restored := queue.New(queue.DefaultConfig(), reopened, testLogger())
	require.NoError(t, restored.Load(ctx))

	items := restored.Details(queue.Filter{})
	require.Len(t, items, 2)
	assert.Equal(t, ids[0], items[0].ID)
	assert.Equal(t, queue.PriorityHigh, items[0].Priority)
	assert.Equal(t, "platform team", items[0].Metadata.JobContext)
	assert.Equal(t, []byte("<html><body>Designer</body></html>"), items[1].Payload.Content)
}

func TestStore_KeepsPreviousSnapshot(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	first := &queue.Snapshot{Version: queue.SnapshotVersion, SavedAt: time.Unix(100, 0).UTC()}
	second := &queue.Snapshot{Version: queue.SnapshotVersion, SavedAt: time.Unix(200, 0).UTC()}
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, second.SavedAt.Equal(got.SavedAt))

	// corrupt the latest entry; Load falls back to the previous save
	require.NoError(t, s.db.Set(latestKey, []byte("{not json"), pebble.Sync))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, first.SavedAt.Equal(got.SavedAt))
}

func TestStore_SaveKeepsFallbackWhenLatestIsCorrupt(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	first := &queue.Snapshot{Version: queue.SnapshotVersion, SavedAt: time.Unix(100, 0).UTC()}
	second := &queue.Snapshot{Version: queue.SnapshotVersion, SavedAt: time.Unix(200, 0).UTC()}
	third := &queue.Snapshot{Version: queue.SnapshotVersion, SavedAt: time.Unix(300, 0).UTC()}
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))

	require.NoError(t, s.db.Set(latestKey, []byte("{not json"), pebble.Sync))
	require.NoError(t, s.Save(ctx, third))

	prev, err := s.decode(previousKey)
	require.NoError(t, err)
	assert.True(t, first.SavedAt.Equal(prev.SavedAt))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, third.SavedAt.Equal(got.SavedAt))
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{}, testLogger())
	assert.Error(t, err)
}
