// Package broker is the messaging contract shared by every service: durable
// topics, persistent messages, explicit acknowledgement and dead-lettering of
// messages whose handler fails.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fjod/commerce-pipeline/pkg/config"
)

var (
	// ErrUnavailable means the broker could not be reached within the retry budget.
	ErrUnavailable = errors.New("message broker unavailable")
	ErrClosed      = errors.New("broker client closed")
)

const deadLetterSuffix = ".dlq"

// Message is a single delivery handed to a Handler.
type Message struct {
	ID    string
	Topic string
	Body  []byte
}

// Decode unmarshals the JSON body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decode %s message %s: %w", m.Topic, m.ID, err)
	}
	return nil
}

// Handler processes one message. A nil return acknowledges it; an error
// dead-letters it without redelivery, so handlers must be idempotent.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) error
}

type Client interface {
	Publisher
	Subscriber
	Close() error
}

// Connector is implemented by clients that can establish their connection
// eagerly. Consumers call it at startup and treat failure as fatal.
type Connector interface {
	Connect(ctx context.Context) error
}

// Connect eagerly connects c when it supports it.
func Connect(ctx context.Context, c Client) error {
	if cn, ok := c.(Connector); ok {
		return cn.Connect(ctx)
	}
	return nil
}

// HealthChecker is implemented by clients that track their subscriptions.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Check reports whether c is consuming every topic it subscribed to. Clients
// without subscription tracking are always healthy.
func Check(ctx context.Context, c Client) error {
	if hc, ok := c.(HealthChecker); ok {
		return hc.Check(ctx)
	}
	return nil
}

// MaxRecoveryDelay caps the wait between recovery rounds of a stalled subscription.
const MaxRecoveryDelay = time.Minute

// stallSet is the set of subscriptions that are currently not consuming.
type stallSet struct {
	mu     sync.Mutex
	topics map[string]int
}

func (s *stallSet) mark(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topics == nil {
		s.topics = make(map[string]int)
	}
	s.topics[topic]++
}

func (s *stallSet) clear(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topics[topic] <= 1 {
		delete(s.topics, topic)
		return
	}
	s.topics[topic]--
}

func (s *stallSet) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.topics) == 0 {
		return nil
	}
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return fmt.Errorf("%w: not consuming %s", ErrUnavailable, strings.Join(topics, ", "))
}

// nextDelay doubles d up to MaxRecoveryDelay.
func nextDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultRetryDelay
	}
	if d*2 > MaxRecoveryDelay {
		return MaxRecoveryDelay
	}
	return d * 2
}

// sleep waits for d or until ctx is done, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

const (
	KindRabbitMQ = "rabbitmq"
	KindKafka    = "kafka"
)

// New returns the client selected by cfg.Kind. group names the Kafka consumer group
// and is ignored by RabbitMQ, where queues are shared by all consumers.
func New(cfg config.Broker, group string, log *slog.Logger) (Client, error) {
	switch cfg.Kind {
	case "", KindRabbitMQ:
		return NewRabbitMQ(cfg.URL, WithRetry(cfg.MaxRetries, cfg.RetryDelay), WithLogger(log)), nil
	case KindKafka:
		return NewKafka(cfg.Brokers, group, WithKafkaRetry(cfg.MaxRetries, cfg.RetryDelay), WithKafkaLogger(log)), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}

// DeadLetterTopic names the topic that receives messages whose handler failed.
func DeadLetterTopic(topic string) string {
	return topic + deadLetterSuffix
}

func isDeadLetterTopic(topic string) bool {
	return strings.HasSuffix(topic, deadLetterSuffix)
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

// BestEffortTimeout bounds a best-effort publish, including any reconnect it
// has to wait for.
const BestEffortTimeout = 5 * time.Second

// PublishBestEffort publishes and logs a failure instead of returning it. Used
// after the primary write has committed, where losing the event must not fail
// the request. The publish is detached from ctx cancellation and limited to
// BestEffortTimeout, so a broker outage delays the caller by at most that long.
func PublishBestEffort(ctx context.Context, p Publisher, log *slog.Logger, topic string, payload any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), BestEffortTimeout)
	defer cancel()
	if err := p.Publish(ctx, topic, payload); err != nil {
		log.ErrorContext(ctx, "event publish failed, event dropped", "topic", topic, "error", err)
	}
}

func safeHandle(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}
