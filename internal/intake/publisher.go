package intake

import (
	"context"
	"encoding/json"
	"fmt"
)

// MessagePublisher is the subset of the RabbitMQ client used to submit requests
type MessagePublisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Publisher submits requests to the intake queue
type Publisher struct {
	publisher MessagePublisher
}

// NewPublisher creates a Publisher
func NewPublisher(p MessagePublisher) *Publisher {
	return &Publisher{publisher: p}
}

// Submit validates req and publishes it
func (p *Publisher) Submit(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode intake request: %w", err)
	}
	if err := p.publisher.Publish(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish intake request %s: %w", req.RequestID, err)
	}
	return nil
}
