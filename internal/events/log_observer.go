package events

import (
	"log/slog"
)

// LogObserver writes every event to a structured logger
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With(slog.String("component", "events"))}
}

func (l *LogObserver) OnQueueEvent(e QueueEvent) {
	attrs := []any{
		slog.String("kind", string(e.Kind)),
	}
	if e.ItemID != "" {
		attrs = append(attrs, slog.String("item_id", e.ItemID))
	}
	if e.Priority != "" {
		attrs = append(attrs, slog.String("priority", e.Priority))
	}
	if e.Count > 0 {
		attrs = append(attrs, slog.Int("count", e.Count))
	}

	switch e.Kind {
	case QueueItemFailed:
		attrs = append(attrs, slog.Int("retry_count", e.RetryCount), slog.String("error", e.Error))
		l.logger.Warn("Queue item failed permanently", attrs...)
	case QueueItemRetrying:
		attrs = append(attrs, slog.Int("retry_count", e.RetryCount), slog.String("error", e.Error))
		l.logger.Info("Queue item scheduled for retry", attrs...)
	default:
		l.logger.Debug("Queue event", attrs...)
	}
}

func (l *LogObserver) OnBatchEvent(e BatchEvent) {
	attrs := []any{
		slog.String("kind", string(e.Kind)),
		slog.String("batch_id", e.BatchID),
		slog.Int("item_count", len(e.ItemIDs)),
		slog.Int("estimated_tokens", e.EstimatedTokens),
	}
	if e.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", e.Duration))
	}

	switch e.Kind {
	case BatchFailed, BatchAborted:
		attrs = append(attrs, slog.String("error", e.Error))
		l.logger.Warn("Batch did not complete", attrs...)
	case BatchDispatched:
		attrs = append(attrs, slog.Float64("utilization", e.Utilization))
		l.logger.Info("Batch dispatched", attrs...)
	default:
		l.logger.Info("Batch completed", attrs...)
	}
}

func (l *LogObserver) OnHealthEvent(e HealthEvent) {
	attrs := []any{
		slog.String("status", string(e.Status)),
		slog.String("previous_status", string(e.PreviousStatus)),
		slog.Any("issues", e.Issues),
		slog.Int("queue_depth", e.QueueDepth),
		slog.Int("throughput_per_hour", e.ThroughputPerHour),
		slog.Float64("failure_rate", e.FailureRate),
	}

	switch e.Status {
	case HealthCritical:
		l.logger.Error("Pipeline health critical", attrs...)
	case HealthWarning:
		l.logger.Warn("Pipeline health degraded", attrs...)
	default:
		l.logger.Info("Pipeline health recovered", attrs...)
	}
}
