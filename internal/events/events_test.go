package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueOnly struct {
	got []QueueEvent
}

func (q *queueOnly) OnQueueEvent(e QueueEvent) { q.got = append(q.got, e) }

type batchAndHealth struct {
	batches []BatchEvent
	health  []HealthEvent
}

func (b *batchAndHealth) OnBatchEvent(e BatchEvent)   { b.batches = append(b.batches, e) }
func (b *batchAndHealth) OnHealthEvent(e HealthEvent) { b.health = append(b.health, e) }

func TestBus_RoutesByCategory(t *testing.T) {
	bus := NewBus()
	q := &queueOnly{}
	bh := &batchAndHealth{}
	bus.Subscribe(q)
	bus.Subscribe(bh)
	bus.Subscribe(Nop{})

	bus.OnQueueEvent(QueueEvent{Kind: QueueItemEnqueued, ItemID: "a"})
	bus.OnBatchEvent(BatchEvent{Kind: BatchDispatched, BatchID: "b"})
	bus.OnHealthEvent(HealthEvent{Status: HealthWarning})

	require.Len(t, q.got, 1)
	assert.Equal(t, "a", q.got[0].ItemID)
	require.Len(t, bh.batches, 1)
	assert.Equal(t, "b", bh.batches[0].BatchID)
	require.Len(t, bh.health, 1)
	assert.Equal(t, HealthWarning, bh.health[0].Status)
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		bus.OnQueueEvent(QueueEvent{})
		bus.OnBatchEvent(BatchEvent{})
		bus.OnHealthEvent(HealthEvent{})
	})
}

func TestLogObserver_Levels(t *testing.T) {
	tests := []struct {
		name     string
		emit     func(o *LogObserver)
		wantLvl  string
		wantText string
	}{
		{
			name:     "item failed",
			emit:     func(o *LogObserver) { o.OnQueueEvent(QueueEvent{Kind: QueueItemFailed, ItemID: "x", Error: "boom"}) },
			wantLvl:  "WARN",
			wantText: "Queue item failed permanently",
		},
		{
			name:     "item retrying",
			emit:     func(o *LogObserver) { o.OnQueueEvent(QueueEvent{Kind: QueueItemRetrying, ItemID: "x"}) },
			wantLvl:  "INFO",
			wantText: "Queue item scheduled for retry",
		},
		{
			name:     "batch aborted",
			emit:     func(o *LogObserver) { o.OnBatchEvent(BatchEvent{Kind: BatchAborted, BatchID: "b", Error: "quota"}) },
			wantLvl:  "WARN",
			wantText: "Batch did not complete",
		},
		{
			name:     "health critical",
			emit:     func(o *LogObserver) { o.OnHealthEvent(HealthEvent{Status: HealthCritical}) },
			wantLvl:  "ERROR",
			wantText: "Pipeline health critical",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			tt.emit(NewLogObserver(logger))

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLvl, entry["level"])
			assert.Equal(t, tt.wantText, entry["msg"])
			assert.Equal(t, "events", entry["component"])
		})
	}
}

type published struct {
	routingKey string
	body       []byte
	deadline   bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) PublishWithRoutingKey(ctx context.Context, routingKey string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := ctx.Deadline()
	f.msgs = append(f.msgs, published{routingKey: routingKey, body: body, deadline: ok})
	return f.err
}

func TestBrokerObserver_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	obs := NewBrokerObserver(pub, time.Second, logger)

	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	obs.OnBatchEvent(BatchEvent{Kind: BatchCompleted, BatchID: "b1", ItemIDs: []string{"i1", "i2"}, At: at})
	obs.OnHealthEvent(HealthEvent{Status: HealthWarning, Issues: []string{"queue depth 600 exceeds 500"}, At: at})

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, RoutingKeyBatch, pub.msgs[0].routingKey)
	assert.True(t, pub.msgs[0].deadline)
	assert.JSONEq(t,
		`{"kind":"batch_completed","batch_id":"b1","item_ids":["i1","i2"],"estimated_tokens":0,"utilization":0,"at":"2025-03-10T12:00:00Z"}`,
		string(pub.msgs[0].body))

	assert.Equal(t, RoutingKeyHealth, pub.msgs[1].routingKey)
	var health HealthEvent
	require.NoError(t, json.Unmarshal(pub.msgs[1].body, &health))
	assert.Equal(t, HealthWarning, health.Status)
	assert.Equal(t, []string{"queue depth 600 exceeds 500"}, health.Issues)
}

func TestBrokerObserver_PublishFailureIsLogged(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	obs := NewBrokerObserver(pub, 0, logger)

	assert.NotPanics(t, func() {
		obs.OnBatchEvent(BatchEvent{Kind: BatchFailed, BatchID: "b1"})
	})
	assert.Contains(t, buf.String(), "Failed to publish event")
	assert.Contains(t, buf.String(), "channel closed")
	assert.Equal(t, 5*time.Second, obs.timeout)
}
