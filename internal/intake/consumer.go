// Package intake feeds the work queue from the RabbitMQ intake queue. It is
// the asynchronous producer path next to the HTTP API.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/resume-pipeline/internal/queue"
)

// DeliverySource hands out deliveries from the intake queue
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Enqueuer accepts new work
type Enqueuer interface {
	QueueResumes(ctx context.Context, items []queue.NewItem, opts queue.EnqueueOptions) ([]string, error)
}

// DefaultRequeueDelay is how long a worker holds a retryable delivery before
// handing it back to the broker
const DefaultRequeueDelay = 5 * time.Second

// Config controls the consumer
type Config struct {
	ConsumerTag  string
	Concurrency  int
	RequeueDelay time.Duration
	Logger       *slog.Logger
}

// Consumer reads intake requests and enqueues them
type Consumer struct {
	source      DeliverySource
	enqueuer    Enqueuer
	logger      *slog.Logger
	consumerTag  string
	concurrency  int
	requeueDelay time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConsumer creates a Consumer
func NewConsumer(cfg Config, source DeliverySource, enqueuer Enqueuer) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	tag := cfg.ConsumerTag
	if tag == "" {
		tag = "resume-intake"
	}
	delay := cfg.RequeueDelay
	if delay <= 0 {
		delay = DefaultRequeueDelay
	}
	return &Consumer{
		source:       source,
		enqueuer:     enqueuer,
		logger:       logger.With(slog.String("component", "intake")),
		consumerTag:  tag,
		concurrency:  concurrency,
		requeueDelay: delay,
		stopChan:     make(chan struct{}),
	}
}

// Start begins consuming. It returns once the worker pool is running.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start intake consumer: %w", err)
	}

	c.spawnPool(ctx, deliveries)
	return nil
}

// Stop waits for every in-progress delivery to be acked or nacked
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
	c.logger.Info("Intake consumer stopped")
}

// handle decodes one delivery body and enqueues its resumes
func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := req.Validate(); err != nil {
		return err
	}

	items, opts := req.Items()
	ids, err := c.enqueuer.QueueResumes(ctx, items, opts)
	switch {
	case errors.Is(err, queue.ErrCapacityExceeded):
		return &RetryableError{Err: err}
	case errors.Is(err, queue.ErrValidation):
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	case err != nil:
		return err
	}

	c.logger.Info("Intake request enqueued",
		slog.String("request_id", req.RequestID),
		slog.Int("resumes", len(req.Resumes)),
		slog.Int("accepted", len(ids)),
	)
	return nil
}

// shouldRequeue decides whether a failed delivery goes back to the broker
func shouldRequeue(err error) bool {
	if errors.Is(err, ErrInvalidMessage) {
		return false
	}
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
