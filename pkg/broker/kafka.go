package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const messageIDHeader = "message_id"

// messageReader is the part of *kafka.Reader a subscription uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaOption func(*Kafka)

func WithKafkaRetry(maxAttempts int, backoff time.Duration) KafkaOption {
	return func(k *Kafka) {
		if maxAttempts > 0 {
			k.writer.MaxAttempts = maxAttempts
		}
		if backoff > 0 {
			k.writer.WriteBackoffMax = backoff
			k.retryDelay = backoff
		}
	}
}

func WithKafkaLogger(log *slog.Logger) KafkaOption {
	return func(k *Kafka) {
		if log != nil {
			k.log = log
		}
	}
}

// Kafka implements Client over a single shared writer and one consumer-group
// reader per subscription.
type Kafka struct {
	brokers    []string
	group      string
	writer     *kafka.Writer
	out        messageWriter
	retryDelay time.Duration
	log        *slog.Logger

	closing  context.Context
	stopRuns context.CancelFunc

	mu      sync.Mutex
	readers []messageReader
	closed  bool
	wg      sync.WaitGroup
	stalled stallSet
}

func NewKafka(brokers []string, group string, opts ...KafkaOption) *Kafka {
	k := &Kafka{
		brokers: brokers,
		group:   group,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			MaxAttempts:            DefaultMaxRetries,
		},
		retryDelay: DefaultRetryDelay,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.out = k.writer
	k.closing, k.stopRuns = context.WithCancel(context.Background())
	k.log = k.log.With("component", "kafka")
	return k
}

// Check fails while the client is closed or a subscription is stuck on a
// message it cannot dead-letter.
func (k *Kafka) Check(context.Context) error {
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return k.stalled.err()
}

// Connect checks that at least one broker accepts connections, retrying up to
// the writer's attempt bound. Exhaustion reports ErrUnavailable.
func (k *Kafka) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= k.writer.MaxAttempts; attempt++ {
		for _, addr := range k.brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err == nil {
				return conn.Close()
			}
			lastErr = err
		}
		k.log.WarnContext(ctx, "kafka unreachable, retrying", "attempt", attempt, "max_attempts", k.writer.MaxAttempts, "error", lastErr)
		if attempt == k.writer.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		case <-time.After(k.retryDelay):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return fmt.Errorf("%w: after %d attempts: %w", ErrUnavailable, k.writer.MaxAttempts, lastErr)
}

func (k *Kafka) Publish(ctx context.Context, topic string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	return k.write(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(id),
		Value:   body,
		Time:    time.Now().UTC(),
		Headers: []kafka.Header{{Key: messageIDHeader, Value: []byte(id)}},
	})
}

func (k *Kafka) write(ctx context.Context, msgs ...kafka.Message) error {
	if err := k.out.WriteMessages(ctx, msgs...); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: write to %s: %v", ErrUnavailable, msgs[0].Topic, err)
	}
	return nil
}

// Subscribe reads topic as part of the client's consumer group. Offsets are
// committed only after the handler returns; a failed message is copied to the
// dead-letter topic first.
func (k *Kafka) Subscribe(ctx context.Context, topic string, h Handler) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ErrClosed
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    topic,
		GroupID:  k.group,
		MaxBytes: 10e6, // 10MB
	})
	k.readers = append(k.readers, reader)
	k.mu.Unlock()
	k.start(ctx, topic, reader, h)
	k.log.Info("subscribed", "topic", topic, "group", k.group)
	return nil
}

func (k *Kafka) start(ctx context.Context, topic string, reader messageReader, h Handler) {
	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(k.closing, cancel)
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer stop()
		defer cancel()
		k.run(runCtx, topic, reader, h)
	}()
}

func (k *Kafka) run(ctx context.Context, topic string, reader messageReader, h Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			k.log.Error("fetch failed", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !k.process(ctx, topic, reader, h, m) {
			return
		}
	}
}

// process handles m and commits its offset. A failed message is committed only
// once it is on the dead-letter topic. It reports false when ctx ended first,
// leaving the offset uncommitted so the group replays m.
func (k *Kafka) process(ctx context.Context, topic string, reader messageReader, h Handler, m kafka.Message) bool {
	msg := Message{ID: messageID(m), Topic: topic, Body: m.Value}
	if err := safeHandle(ctx, h, msg); err != nil {
		k.log.ErrorContext(ctx, "message processing failed, dead-lettering",
			"topic", topic, "message_id", msg.ID, "error", err)
		if !k.deadLetter(ctx, topic, msg.ID, m) {
			return false
		}
	}
	if err := reader.CommitMessages(ctx, m); err != nil {
		k.log.Error("commit failed", "topic", topic, "message_id", msg.ID, "error", err)
	}
	return true
}

// deadLetter copies m to the dead-letter topic, retrying with a growing delay
// until the write succeeds or ctx is done. The subscription is reported by
// Check while it waits.
func (k *Kafka) deadLetter(ctx context.Context, topic, id string, m kafka.Message) bool {
	dead := kafka.Message{
		Topic:   DeadLetterTopic(topic),
		Key:     m.Key,
		Value:   m.Value,
		Headers: m.Headers,
		Time:    time.Now().UTC(),
	}
	delay := k.retryDelay
	for attempt := 1; ; attempt++ {
		err := k.write(ctx, dead)
		if err == nil {
			if attempt > 1 {
				k.stalled.clear(topic)
			}
			return true
		}
		if attempt == 1 {
			k.stalled.mark(topic)
		}
		k.log.Error("dead-letter write failed, retrying", "topic", topic, "message_id", id,
			"attempt", attempt, "retry_in", delay, "error", err)
		if !sleep(ctx, delay) {
			k.stalled.clear(topic)
			return false
		}
		delay = nextDelay(delay)
	}
}

func messageID(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == messageIDHeader {
			return string(h.Value)
		}
	}
	return fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset)
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	readers := k.readers
	k.readers = nil
	k.mu.Unlock()
	k.stopRuns()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	k.wg.Wait()
	if err := k.out.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
