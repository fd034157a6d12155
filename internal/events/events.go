// Package events defines the typed notifications the pipeline emits and the
// observer interfaces that receive them. Queue changes, batch lifecycle and
// health transitions each have their own event type and observer, so a
// subscriber only implements the categories it cares about.
package events

import "time"

// QueueEventKind names a queue state change
type QueueEventKind string

// Queue event kinds
const (
	QueueItemEnqueued  QueueEventKind = "item_enqueued"
	QueueItemDuplicate QueueEventKind = "item_duplicate"
	QueueItemDequeued  QueueEventKind = "item_dequeued"
	QueueItemCompleted QueueEventKind = "item_completed"
	QueueItemRetrying  QueueEventKind = "item_retrying"
	QueueItemFailed    QueueEventKind = "item_failed"
	QueueItemReleased  QueueEventKind = "item_released"
	QueueItemsPurged   QueueEventKind = "items_purged"
	QueueSnapshotSaved QueueEventKind = "snapshot_saved"
)

// QueueEvent describes one change to the work queue
type QueueEvent struct {
	Kind       QueueEventKind `json:"kind"`
	ItemID     string         `json:"item_id,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	RetryCount int            `json:"retry_count,omitempty"`
	Count      int            `json:"count,omitempty"`
	Error      string         `json:"error,omitempty"`
	At         time.Time      `json:"at"`
}

// BatchEventKind names a step in a batch's lifecycle
type BatchEventKind string

// Batch event kinds
const (
	BatchDispatched BatchEventKind = "batch_dispatched"
	BatchCompleted  BatchEventKind = "batch_completed"
	BatchFailed     BatchEventKind = "batch_failed"
	BatchAborted    BatchEventKind = "batch_aborted"
)

// BatchEvent describes a batch sent to, or returned from, the generation service
type BatchEvent struct {
	Kind            BatchEventKind `json:"kind"`
	BatchID         string         `json:"batch_id"`
	ItemIDs         []string       `json:"item_ids"`
	EstimatedTokens int            `json:"estimated_tokens"`
	Utilization     float64        `json:"utilization"`
	Duration        time.Duration  `json:"duration,omitempty"`
	Error           string         `json:"error,omitempty"`
	At              time.Time      `json:"at"`
}

// HealthStatus is the tri-state health verdict
type HealthStatus string

// Health statuses
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// HealthEvent is emitted when a health check breaches a threshold or the status changes
type HealthEvent struct {
	Status            HealthStatus `json:"status"`
	PreviousStatus    HealthStatus `json:"previous_status"`
	Issues            []string     `json:"issues"`
	QueueDepth        int          `json:"queue_depth"`
	ThroughputPerHour int          `json:"throughput_per_hour"`
	FailureRate       float64      `json:"failure_rate"`
	At                time.Time    `json:"at"`
}

// QueueObserver receives queue changes. Implementations must not block.
type QueueObserver interface {
	OnQueueEvent(QueueEvent)
}

// BatchObserver receives batch lifecycle notifications
type BatchObserver interface {
	OnBatchEvent(BatchEvent)
}

// HealthObserver receives health notifications
type HealthObserver interface {
	OnHealthEvent(HealthEvent)
}
