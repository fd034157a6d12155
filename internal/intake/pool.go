package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// spawnPool starts Concurrency goroutines draining deliveries
func (c *Consumer) spawnPool(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, deliveries, fmt.Sprintf("%s-%d", c.consumerTag, i))
	}

	c.logger.Info("Intake consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("concurrency", c.concurrency),
	)
}

func (c *Consumer) workerLoop(ctx context.Context, deliveries <-chan amqp.Delivery, name string) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Intake delivery channel closed", slog.String("worker", name))
				return
			}
			c.settle(ctx, delivery, name)
		}
	}
}

// settle processes one delivery and acks or nacks it
func (c *Consumer) settle(ctx context.Context, delivery amqp.Delivery, name string) {
	err := c.handle(ctx, delivery.Body)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ACK message",
				slog.String("worker", name),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := shouldRequeue(err)
	c.logger.Warn("Intake message rejected",
		slog.String("worker", name),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
		slog.Bool("requeue", requeue),
		slog.String("error", err.Error()),
	)
	if requeue {
		c.holdBeforeRequeue(ctx)
	}
	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		c.logger.Error("Failed to NACK message",
			slog.String("worker", name),
			slog.String("error", nackErr.Error()),
		)
	}
}

// holdBeforeRequeue keeps a retryable delivery unacked for the requeue delay.
// Stop and ctx cut the wait short.
func (c *Consumer) holdBeforeRequeue(ctx context.Context) {
	timer := time.NewTimer(c.requeueDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.stopChan:
	case <-ctx.Done():
	}
}
