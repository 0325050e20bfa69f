package listener

import (
	"context"
	"sync"

	"github.com/fjod/commerce-pipeline/notification-service/internal/store"
	"github.com/fjod/commerce-pipeline/pkg/broker"
)

type MockDeduper struct {
	mu     sync.Mutex
	seen   map[string]bool
	Forgot []string
}

func NewMockDeduper() *MockDeduper {
	return &MockDeduper{seen: make(map[string]bool)}
}

func (m *MockDeduper) FirstSeen(_ context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return false
	}
	m.seen[id] = true
	return true
}

func (m *MockDeduper) Forget(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	m.Forgot = append(m.Forgot, id)
}

type MockSender struct {
	mu   sync.Mutex
	Err  error
	Sent []Message
}

func (m *MockSender) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

type MockRecorder struct {
	mu       sync.Mutex
	Err      error
	Recorded []store.Notification
}

func (m *MockRecorder) Record(_ context.Context, n *store.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Recorded = append(m.Recorded, *n)
	return nil
}

type MockSubscriber struct {
	Err    error
	Topics []string
}

func (m *MockSubscriber) Subscribe(_ context.Context, topic string, _ broker.Handler) error {
	if m.Err != nil {
		return m.Err
	}
	m.Topics = append(m.Topics, topic)
	return nil
}
