package orchestrator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/resume-pipeline/internal/events"
)

// Health is the result of one health check
type Health struct {
	Status            events.HealthStatus `json:"status"`
	Issues            []string            `json:"issues"`
	QueueDepth        int                 `json:"queue_depth"`
	ThroughputPerHour int                 `json:"throughput_per_hour"`
	FailureRate       float64             `json:"failure_rate"`
	State             State               `json:"state"`
	CheckedAt         time.Time           `json:"checked_at"`
}

// HealthCheck evaluates the queue against the configured thresholds. A high
// failure rate is critical on its own; otherwise one issue is a warning and
// two or more are critical.
func (o *Orchestrator) HealthCheck() Health {
	stats := o.queue.Stats()
	depth := o.queue.Depth()
	th := o.cfg.Health

	h := Health{
		Status:            events.HealthHealthy,
		Issues:            []string{},
		QueueDepth:        depth,
		ThroughputPerHour: stats.ThroughputPerHour,
		FailureRate:       stats.FailureRate,
		State:             o.State(),
		CheckedAt:         o.now(),
	}

	if th.QueueDepthThreshold > 0 && depth > th.QueueDepthThreshold {
		h.Issues = append(h.Issues, fmt.Sprintf("queue depth %d exceeds %d", depth, th.QueueDepthThreshold))
	}
	if depth > 0 && stats.ThroughputPerHour < th.MinThroughputPerHour {
		h.Issues = append(h.Issues, fmt.Sprintf("throughput %d/h below %d/h", stats.ThroughputPerHour, th.MinThroughputPerHour))
	}
	failing := th.MaxFailureRate > 0 && stats.FailureRate > th.MaxFailureRate
	if failing {
		h.Issues = append(h.Issues, fmt.Sprintf("failure rate %.2f exceeds %.2f", stats.FailureRate, th.MaxFailureRate))
	}

	switch {
	case failing || len(h.Issues) >= 2:
		h.Status = events.HealthCritical
	case len(h.Issues) == 1:
		h.Status = events.HealthWarning
	}
	return h
}

// evaluateHealth runs a check and notifies observers on any breach or change
func (o *Orchestrator) evaluateHealth() Health {
	h := o.HealthCheck()

	o.mu.Lock()
	previous := o.lastHealth
	o.lastHealth = h.Status
	o.mu.Unlock()

	if h.Status == events.HealthHealthy && previous == events.HealthHealthy {
		return h
	}

	if h.Status != previous {
		o.logger.Warn("Health status changed",
			slog.String("status", string(h.Status)),
			slog.String("previous", string(previous)),
			slog.Any("issues", h.Issues),
		)
	}
	o.health.OnHealthEvent(events.HealthEvent{
		Status:            h.Status,
		PreviousStatus:    previous,
		Issues:            h.Issues,
		QueueDepth:        h.QueueDepth,
		ThroughputPerHour: h.ThroughputPerHour,
		FailureRate:       h.FailureRate,
		At:                h.CheckedAt,
	})
	return h
}
