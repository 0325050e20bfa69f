// Package consumer feeds seller-facing events into the dashboard projection.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fjod/commerce-pipeline/pkg/broker"
	"github.com/fjod/commerce-pipeline/pkg/events"
)

type Projector interface {
	ApplyOrderCreated(ctx context.Context, messageID string, ev events.OrderCreated) error
	ApplyPayment(ctx context.Context, messageID string, ev events.Payment) error
}

type Consumer struct {
	projector Projector
	log       *slog.Logger
}

func New(projector Projector, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{projector: projector, log: log}
}

// Register subscribes to every seller topic.
func (c *Consumer) Register(ctx context.Context, sub broker.Subscriber) error {
	for _, topic := range events.SellerTopics {
		if err := sub.Subscribe(ctx, topic, c.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		c.log.InfoContext(ctx, "listening", "topic", topic)
	}
	return nil
}

func (c *Consumer) Handle(ctx context.Context, msg broker.Message) error {
	switch msg.Topic {
	case events.TopicOrderCreated:
		var ev events.OrderCreated
		if err := msg.Decode(&ev); err != nil {
			return err
		}
		if ev.ID == "" {
			return fmt.Errorf("order event %s has no order id", msg.ID)
		}
		if err := c.projector.ApplyOrderCreated(ctx, msg.ID, ev); err != nil {
			return err
		}
		c.log.InfoContext(ctx, "order projected", "order_id", ev.ID, "items", len(ev.Items))
	case events.TopicPaymentCreated, events.TopicPaymentUpdated:
		var ev events.Payment
		if err := msg.Decode(&ev); err != nil {
			return err
		}
		if ev.ID == "" || ev.Order == "" {
			return fmt.Errorf("payment event %s is missing ids", msg.ID)
		}
		if err := c.projector.ApplyPayment(ctx, msg.ID, ev); err != nil {
			return err
		}
		c.log.InfoContext(ctx, "payment projected", "payment_id", ev.ID, "status", ev.Status)
	default:
		return fmt.Errorf("unexpected topic %s", msg.Topic)
	}
	return nil
}
