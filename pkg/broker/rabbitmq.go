package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxRetries = 10
	DefaultRetryDelay = 5 * time.Second
	// DefaultDialTimeout bounds a single dial including the AMQP handshake.
	DefaultDialTimeout = 3 * time.Second
	defaultHeartbeat   = 10 * time.Second
	defaultPrefetch    = 10
)

// State is the lifecycle of the shared broker connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type connection interface {
	Channel() (channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type dialFunc func(url string) (connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: defaultHeartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(DefaultDialTimeout),
	})
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

type Option func(*RabbitMQ)

// WithRetry sets the connect budget. Non-positive values keep the defaults.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *RabbitMQ) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *RabbitMQ) {
		if log != nil {
			c.log = log
		}
	}
}

func withDialer(d dialFunc) Option {
	return func(c *RabbitMQ) { c.dial = d }
}

// RabbitMQ is a process-wide client holding at most one connection and one channel.
// The connection is established lazily and re-established after it drops.
type RabbitMQ struct {
	url        string
	maxRetries int
	retryDelay time.Duration
	dial       dialFunc
	log        *slog.Logger

	mu     sync.Mutex
	state  State
	conn   connection
	ch     channel
	closed bool

	flight  singleflight.Group
	stalled stallSet
}

func NewRabbitMQ(url string, opts ...Option) *RabbitMQ {
	c := &RabbitMQ{
		url:        url,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		dial:       dialAMQP,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "rabbitmq")
	return c
}

func (c *RabbitMQ) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Check fails while the client is closed or any subscription is waiting to be
// re-established.
func (c *RabbitMQ) Check(context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.stalled.err()
}

// Connect establishes the connection eagerly. Consumer processes call it at
// startup and treat ErrUnavailable as fatal.
func (c *RabbitMQ) Connect(ctx context.Context) error {
	_, err := c.channel(ctx)
	return err
}

func (c *RabbitMQ) channel(ctx context.Context) (channel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state == StateReady && c.ch != nil {
		ch := c.ch
		c.mu.Unlock()
		return ch, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do("connect", func() (any, error) {
		return c.connect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(channel), nil
}

func (c *RabbitMQ) connect(ctx context.Context) (channel, error) {
	c.mu.Lock()
	if c.state == StateReady && c.ch != nil {
		ch := c.ch
		c.mu.Unlock()
		return ch, nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		ch, err := c.open()
		if err == nil {
			c.log.Info("connected", "attempt", attempt)
			return ch, nil
		}
		lastErr = err
		c.log.Warn("broker not ready", "attempt", attempt, "retries_left", c.maxRetries-attempt, "error", err)
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(c.retryDelay):
		}
	}
	c.setState(StateDisconnected)
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, c.maxRetries, lastErr)
}

func (c *RabbitMQ) open() (channel, error) {
	conn, err := c.dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return nil, ErrClosed
	}
	c.conn, c.ch, c.state = conn, ch, StateReady
	c.mu.Unlock()

	go c.watch(conn, connClosed, chClosed)
	return ch, nil
}

// watch invalidates the cached connection once the server or the network closes
// either the connection or the channel.
func (c *RabbitMQ) watch(conn connection, connClosed, chClosed chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClosed:
	case reason = <-chClosed:
	}

	c.mu.Lock()
	stale := c.conn == conn
	if stale {
		c.conn, c.ch, c.state = nil, nil, StateDisconnected
	}
	closed := c.closed
	c.mu.Unlock()

	if !stale || closed {
		return
	}
	_ = conn.Close()
	if reason != nil {
		c.log.Error("connection lost", "error", reason)
		return
	}
	c.log.Warn("connection closed")
}

// invalidate drops the cached connection if ch is still the cached channel.
// The delivery stream can close before the close notification is observed.
func (c *RabbitMQ) invalidate(ch channel) {
	c.mu.Lock()
	if c.ch != ch {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn, c.ch, c.state = nil, nil, StateDisconnected
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *RabbitMQ) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func declare(ch channel, topic string) error {
	if isDeadLetterTopic(topic) {
		_, err := ch.QueueDeclare(topic, true, false, false, false, nil)
		return err
	}
	dlq := DeadLetterTopic(topic)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return err
	}
	_, err := ch.QueueDeclare(topic, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	})
	return err
}

// Publish sends a persistent JSON message to the durable queue named topic.
// Connection retries happen in connect; a failed publish is returned as is.
func (c *RabbitMQ) Publish(ctx context.Context, topic string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	ch, err := c.channel(ctx)
	if err != nil {
		return err
	}
	if err := declare(ch, topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", topic, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	c.log.DebugContext(ctx, "message published", "topic", topic, "message_id", msg.MessageId)
	return nil
}

// Subscribe starts consuming topic in the background. It returns once the
// consumer is registered; the subscription lives until ctx is done.
func (c *RabbitMQ) Subscribe(ctx context.Context, topic string, h Handler) error {
	ch, deliveries, err := c.consume(ctx, topic)
	if err != nil {
		return err
	}
	c.log.Info("subscribed", "topic", topic)
	go c.consumeLoop(ctx, topic, h, ch, deliveries)
	return nil
}

func (c *RabbitMQ) consume(ctx context.Context, topic string) (channel, <-chan amqp.Delivery, error) {
	ch, err := c.channel(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := declare(ch, topic); err != nil {
		return nil, nil, fmt.Errorf("declare queue %s: %w", topic, err)
	}
	if err := ch.Qos(defaultPrefetch, 0, false); err != nil {
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("consume %s: %w", topic, err)
	}
	return ch, deliveries, nil
}

func (c *RabbitMQ) consumeLoop(ctx context.Context, topic string, h Handler, ch channel, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil || c.isClosed() {
					return
				}
				c.log.Warn("delivery stream closed, resubscribing", "topic", topic)
				c.invalidate(ch)
				nextCh, next, ok := c.resubscribe(ctx, topic)
				if !ok {
					return
				}
				ch, deliveries = nextCh, next
				continue
			}
			c.handle(ctx, topic, h, d)
		}
	}
}

// resubscribe re-registers the consumer for topic. Each round spends the full
// connect budget; failed rounds are retried with a growing delay until ctx is
// done or the client is closed. The topic is reported by Check meanwhile.
func (c *RabbitMQ) resubscribe(ctx context.Context, topic string) (channel, <-chan amqp.Delivery, bool) {
	c.stalled.mark(topic)
	defer c.stalled.clear(topic)

	delay := c.retryDelay
	for round := 1; ; round++ {
		ch, deliveries, err := c.consume(ctx, topic)
		if err == nil {
			c.log.Info("resubscribed", "topic", topic, "round", round)
			return ch, deliveries, true
		}
		if ctx.Err() != nil || c.isClosed() {
			return nil, nil, false
		}
		c.log.Error("resubscribe failed, retrying", "topic", topic, "round", round, "retry_in", delay, "error", err)
		if !sleep(ctx, delay) {
			return nil, nil, false
		}
		delay = nextDelay(delay)
	}
}

func (c *RabbitMQ) handle(ctx context.Context, topic string, h Handler, d amqp.Delivery) {
	msg := Message{ID: d.MessageId, Topic: topic, Body: d.Body}
	if err := safeHandle(ctx, h, msg); err != nil {
		c.log.ErrorContext(ctx, "message processing failed, dead-lettering",
			"topic", topic, "message_id", msg.ID, "error", err)
		if err := d.Nack(false, false); err != nil {
			c.log.Error("nack failed", "topic", topic, "message_id", msg.ID, "error", err)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		c.log.Error("ack failed", "topic", topic, "message_id", msg.ID, "error", err)
	}
}

func (c *RabbitMQ) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *RabbitMQ) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, ch := c.conn, c.ch
	c.conn, c.ch, c.state = nil, nil, StateDisconnected
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
