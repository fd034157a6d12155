package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Routing keys used when forwarding events to the message broker
const (
	RoutingKeyBatch  = "pipeline.batch"
	RoutingKeyHealth = "pipeline.health"
)

// MessagePublisher is the subset of the RabbitMQ client the forwarder needs
type MessagePublisher interface {
	PublishWithRoutingKey(ctx context.Context, routingKey string, body []byte) error
}

// BrokerObserver forwards batch and health notifications to a message broker.
// Queue events are not forwarded.
type BrokerObserver struct {
	publisher MessagePublisher
	timeout   time.Duration
	logger    *slog.Logger
}

// NewBrokerObserver creates a BrokerObserver. Publishing failures are logged and dropped.
func NewBrokerObserver(publisher MessagePublisher, timeout time.Duration, logger *slog.Logger) *BrokerObserver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BrokerObserver{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "event_publisher")),
	}
}

func (b *BrokerObserver) OnBatchEvent(e BatchEvent) {
	b.publish(RoutingKeyBatch, e)
}

func (b *BrokerObserver) OnHealthEvent(e HealthEvent) {
	b.publish(RoutingKeyHealth, e)
}

func (b *BrokerObserver) publish(routingKey string, event any) {
	body, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event",
			slog.String("routing_key", routingKey),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.publisher.PublishWithRoutingKey(ctx, routingKey, body); err != nil {
		b.logger.Warn("Failed to publish event",
			slog.String("routing_key", routingKey),
			slog.String("error", err.Error()),
		)
	}
}
