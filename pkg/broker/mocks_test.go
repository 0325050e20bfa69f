package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
)

type publishedMessage struct {
	key string
	msg amqp.Publishing
}

type MockChannel struct {
	mu         sync.Mutex
	declared   map[string]amqp.Table
	published  []publishedMessage
	deliveries chan amqp.Delivery
	notify     []chan *amqp.Error
	closed     bool
}

func newMockChannel() *MockChannel {
	return &MockChannel{
		declared:   make(map[string]amqp.Table),
		deliveries: make(chan amqp.Delivery, 16),
	}
}

func (m *MockChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declared[name] = args
	return amqp.Queue{Name: name}, nil
}

func (m *MockChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return amqp.ErrClosed
	}
	m.published = append(m.published, publishedMessage{key: key, msg: msg})
	return nil
}

func (m *MockChannel) Consume(_, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, amqp.ErrClosed
	}
	return m.deliveries, nil
}

func (m *MockChannel) Qos(_, _ int, _ bool) error { return nil }

func (m *MockChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = append(m.notify, receiver)
	return receiver
}

func (m *MockChannel) Close() error {
	m.shutdown(nil)
	return nil
}

func (m *MockChannel) shutdown(reason *amqp.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, n := range m.notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
	close(m.deliveries)
}

func (m *MockChannel) Published() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.published...)
}

func (m *MockChannel) Declared(name string) (amqp.Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args, ok := m.declared[name]
	return args, ok
}

type MockConnection struct {
	ch     *MockChannel
	mu     sync.Mutex
	notify []chan *amqp.Error
	closed bool
}

func (m *MockConnection) Channel() (channel, error) { return m.ch, nil }

func (m *MockConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = append(m.notify, receiver)
	return receiver
}

func (m *MockConnection) Close() error {
	m.shutdown(nil)
	return nil
}

// drop simulates the server closing the connection.
func (m *MockConnection) drop() {
	m.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"})
}

func (m *MockConnection) shutdown(reason *amqp.Error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, n := range m.notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
	m.mu.Unlock()
	m.ch.shutdown(reason)
}

type MockDialer struct {
	failures int32
	delay    time.Duration
	calls    atomic.Int32
	// down fails every dial while set, independent of failures.
	down atomic.Bool

	mu    sync.Mutex
	conns []*MockConnection
}

func (d *MockDialer) Dial(string) (connection, error) {
	n := d.calls.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if n <= d.failures || d.down.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	conn := &MockConnection{ch: newMockChannel()}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *MockDialer) Calls() int { return int(d.calls.Load()) }

func (d *MockDialer) Conn(i int) *MockConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type MockAcknowledger struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (m *MockAcknowledger) Ack(tag uint64, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, tag)
	return nil
}

func (m *MockAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nacked = append(m.nacked, tag)
	m.requeue = append(m.requeue, requeue)
	return nil
}

func (m *MockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Nack(tag, false, requeue)
}

func (m *MockAcknowledger) Snapshot() (acked, nacked []uint64, requeue []bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.acked...), append([]uint64(nil), m.nacked...), append([]bool(nil), m.requeue...)
}

type MockReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
}

func (m *MockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.pending) > 0 {
		msg := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *MockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *MockReader) Close() error { return nil }

func (m *MockReader) Committed() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.committed...)
}

type MockWriter struct {
	// failures is the number of writes that fail before one succeeds; negative fails forever.
	failures int32
	calls    atomic.Int32

	mu      sync.Mutex
	written []kafka.Message
}

func (m *MockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	n := m.calls.Add(1)
	if m.failures < 0 || n <= m.failures {
		return errors.New("leader not available")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, msgs...)
	return nil
}

func (m *MockWriter) Close() error { return nil }

func (m *MockWriter) Calls() int { return int(m.calls.Load()) }

func (m *MockWriter) Written() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.written...)
}
