package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/resume-pipeline/internal/events"
	"github.com/cuongbtq/resume-pipeline/internal/queue"
)

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		thresholds HealthThresholds
		maxRetries int
		setup      func(t *testing.T, h *harness)
		wantStatus events.HealthStatus
		wantIssues int
	}{
		{
			name:       "empty queue",
			thresholds: HealthThresholds{QueueDepthThreshold: 2, MinThroughputPerHour: 10, MaxFailureRate: 0.2},
			setup:      func(*testing.T, *harness) {},
			wantStatus: events.HealthHealthy,
		},
		{
			name:       "deep queue",
			thresholds: HealthThresholds{QueueDepthThreshold: 2, MaxFailureRate: 0.2},
			setup: func(t *testing.T, h *harness) {
				h.enqueue(t, 3, queue.EnqueueOptions{})
			},
			wantStatus: events.HealthWarning,
			wantIssues: 1,
		},
		{
			name:       "low throughput with work waiting",
			thresholds: HealthThresholds{QueueDepthThreshold: 10, MinThroughputPerHour: 5, MaxFailureRate: 0.2},
			setup: func(t *testing.T, h *harness) {
				h.enqueue(t, 1, queue.EnqueueOptions{})
			},
			wantStatus: events.HealthWarning,
			wantIssues: 1,
		},
		{
			name:       "deep queue and low throughput",
			thresholds: HealthThresholds{QueueDepthThreshold: 2, MinThroughputPerHour: 5, MaxFailureRate: 0.2},
			setup: func(t *testing.T, h *harness) {
				h.enqueue(t, 3, queue.EnqueueOptions{})
			},
			wantStatus: events.HealthCritical,
			wantIssues: 2,
		},
		{
			name:       "failure rate alone is critical",
			thresholds: HealthThresholds{QueueDepthThreshold: 10, MinThroughputPerHour: 5, MaxFailureRate: 0.2},
			maxRetries: 1,
			setup: func(t *testing.T, h *harness) {
				h.enqueue(t, 1, queue.EnqueueOptions{})
				items := h.queue.Dequeue(1)
				require.Len(t, items, 1)
				require.NoError(t, h.queue.MarkFailed(items[0].ID, errors.New("bad response")))
			},
			wantStatus: events.HealthCritical,
			wantIssues: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Health = tt.thresholds
			qcfg := testQueueConfig()
			if tt.maxRetries > 0 {
				qcfg.MaxRetries = tt.maxRetries
			}
			h := newHarness(t, cfg, qcfg)
			tt.setup(t, h)

			got := h.orch.HealthCheck()

			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Len(t, got.Issues, tt.wantIssues)
			assert.Equal(t, h.clock.Now(), got.CheckedAt)
		})
	}
}

func TestEvaluateHealth_EmitsOnBreachAndChange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Health = HealthThresholds{QueueDepthThreshold: 2, MaxFailureRate: 0.5}
	h := newHarness(t, cfg, testQueueConfig())

	h.orch.evaluateHealth()
	assert.Empty(t, h.events.healthEvents(), "healthy to healthy is silent")

	h.enqueue(t, 3, queue.EnqueueOptions{})
	h.orch.evaluateHealth()
	h.orch.evaluateHealth()

	got := h.events.healthEvents()
	require.Len(t, got, 2, "every breach is reported")
	assert.Equal(t, events.HealthWarning, got[0].Status)
	assert.Equal(t, events.HealthHealthy, got[0].PreviousStatus)
	assert.Equal(t, 3, got[0].QueueDepth)
	assert.Equal(t, events.HealthWarning, got[1].PreviousStatus)

	for _, it := range h.queue.Dequeue(3) {
		require.NoError(t, h.queue.MarkCompleted(it.ID, []byte(`{}`)))
	}
	h.orch.evaluateHealth()
	h.orch.evaluateHealth()

	got = h.events.healthEvents()
	require.Len(t, got, 3, "recovery is reported once")
	assert.Equal(t, events.HealthHealthy, got[2].Status)
	assert.Equal(t, events.HealthWarning, got[2].PreviousStatus)
}
