// Package listener turns payment events into customer notifications.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fjod/commerce-pipeline/notification-service/internal/store"
	"github.com/fjod/commerce-pipeline/pkg/broker"
	"github.com/fjod/commerce-pipeline/pkg/events"
)

var (
	ErrNoRecipient  = errors.New("event has no recipient email")
	ErrUnknownTopic = errors.New("no notification for topic")
)

type Deduper interface {
	FirstSeen(ctx context.Context, id string) bool
	Forget(ctx context.Context, id string)
}

type Recorder interface {
	Record(ctx context.Context, n *store.Notification) error
}

type Message struct {
	To      string
	Subject string
	Summary string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, m Message) error {
	s.log.InfoContext(ctx, "notification sent", "to", m.To, "subject", m.Subject, "summary", m.Summary)
	return nil
}

type Listener struct {
	dedupe Deduper
	sender Sender
	store  Recorder
	log    *slog.Logger
}

func New(dedupe Deduper, sender Sender, store Recorder, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{dedupe: dedupe, sender: sender, store: store, log: log}
}

// Register subscribes to every notification topic.
func (l *Listener) Register(ctx context.Context, sub broker.Subscriber) error {
	for _, topic := range events.NotificationTopics {
		if err := sub.Subscribe(ctx, topic, l.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		l.log.InfoContext(ctx, "listening", "topic", topic)
	}
	return nil
}

// Handle sends the notification for one message. Returning an error
// dead-letters the message.
func (l *Listener) Handle(ctx context.Context, msg broker.Message) error {
	if !l.dedupe.FirstSeen(ctx, msg.ID) {
		l.log.InfoContext(ctx, "duplicate message skipped", "topic", msg.Topic, "message_id", msg.ID)
		return nil
	}

	m, err := compose(msg)
	if err == nil {
		err = l.sender.Send(ctx, m)
	}
	if err != nil {
		l.dedupe.Forget(ctx, msg.ID)
		return err
	}

	if err := l.store.Record(ctx, &store.Notification{
		MessageID: msg.ID,
		Topic:     msg.Topic,
		Recipient: m.To,
		Subject:   m.Subject,
		Body:      m.Body,
	}); err != nil {
		// already sent; a failed log entry must not dead-letter the message
		l.log.ErrorContext(ctx, "failed to record notification", "message_id", msg.ID, "error", err)
	}
	return nil
}

func compose(msg broker.Message) (Message, error) {
	switch msg.Topic {
	case events.TopicPaymentInitiated:
		var ev events.PaymentInitiated
		if err := msg.Decode(&ev); err != nil {
			return Message{}, err
		}
		return withRecipient(ev.Email, Message{
			Subject: "Payment Initiated",
			Summary: "Your payment is being processed",
			Body: lines(
				fmt.Sprintf("Dear %s,", greet(ev.Username)),
				fmt.Sprintf("Your payment of %s %d for the order ID: %s has been initiated.", ev.Currency, ev.Amount, ev.OrderID),
				"We will notify you once the payment is completed.",
			),
		})
	case events.TopicPaymentCompleted:
		var ev events.PaymentCompleted
		if err := msg.Decode(&ev); err != nil {
			return Message{}, err
		}
		return withRecipient(ev.Email, Message{
			Subject: "Payment Successful",
			Summary: "We have received your payment",
			Body: lines(
				fmt.Sprintf("Dear %s,", greet(ev.FullName)),
				fmt.Sprintf("We have received your payment of %s %.2f for the order ID: %s.", ev.Currency, ev.Amount, ev.OrderID),
				"Thank you for your purchase!",
			),
		})
	case events.TopicPaymentFailed:
		var ev events.PaymentFailed
		if err := msg.Decode(&ev); err != nil {
			return Message{}, err
		}
		return withRecipient(ev.Email, Message{
			Subject: "Payment Failed",
			Summary: "Your payment could not be processed",
			Body: lines(
				fmt.Sprintf("Dear %s,", greet(ev.FullName)),
				fmt.Sprintf("Unfortunately, your payment for the order ID: %s has failed.", ev.OrderID),
				"Please try again or contact support if the issue persists.",
			),
		})
	default:
		return Message{}, fmt.Errorf("%w %s", ErrUnknownTopic, msg.Topic)
	}
}

func withRecipient(email string, m Message) (Message, error) {
	if email == "" {
		return Message{}, ErrNoRecipient
	}
	m.To = email
	return m, nil
}

func greet(name string) string {
	if name == "" {
		return "Customer"
	}
	return name
}

func lines(parts ...string) string {
	return strings.Join(append(parts, "Best regards,", "The Team"), "\n")
}
