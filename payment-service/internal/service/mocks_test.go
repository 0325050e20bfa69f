package service

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/commerce-pipeline/payment-service/internal/domain"
	"github.com/fjod/commerce-pipeline/payment-service/internal/gateway"
	"github.com/fjod/commerce-pipeline/payment-service/internal/repository"
	"github.com/fjod/commerce-pipeline/pkg/peer"
)

// MockRepository keeps payments in memory and completes them with the same
// PENDING guard as the Postgres store.
type MockRepository struct {
	mu          sync.Mutex
	payments    map[string]domain.Payment
	CreateErr   error
	CompleteErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{payments: make(map[string]domain.Payment)}
}

func (m *MockRepository) CreatePayment(_ context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.payments[payment.RazorpayOrderID]; ok {
		return repository.ErrDuplicatePayment
	}
	m.payments[payment.RazorpayOrderID] = *payment
	return nil
}

func (m *MockRepository) GetByRazorpayOrderID(_ context.Context, razorpayOrderID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[razorpayOrderID]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *MockRepository) ListByOrderID(_ context.Context, orderID string) ([]*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

func (m *MockRepository) CompletePending(_ context.Context, razorpayOrderID, paymentID, signature string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CompleteErr != nil {
		return nil, m.CompleteErr
	}
	p, ok := m.payments[razorpayOrderID]
	if !ok || p.Status != domain.PaymentStatusPending {
		return nil, repository.ErrPaymentNotFound
	}
	p.PaymentID = paymentID
	p.Signature = signature
	p.Status = domain.PaymentStatusCompleted
	p.UpdatedAt = time.Now().UTC()
	m.payments[razorpayOrderID] = p
	return &p, nil
}

func (m *MockRepository) RunMigrations(*repository.Credentials) error { return nil }

func (m *MockRepository) Ping(context.Context) error { return nil }

func (m *MockRepository) Close() error { return nil }

type MockOrders struct {
	Order    peer.Order
	Err      error
	GotToken string
}

func (m *MockOrders) GetOrder(_ context.Context, token, id string) (peer.Order, error) {
	m.GotToken = token
	if m.Err != nil {
		return peer.Order{}, m.Err
	}
	o := m.Order
	o.ID = id
	return o, nil
}

type MockGateway struct {
	mu     sync.Mutex
	Err    error
	Calls  int
	NextID string
}

func (m *MockGateway) CreateOrder(_ context.Context, amount int64, currency, receipt string) (gateway.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return gateway.Order{}, m.Err
	}
	id := m.NextID
	if id == "" {
		id = "order_rzp_" + receipt
	}
	return gateway.Order{ID: id, Amount: amount, Currency: currency, Receipt: receipt, Status: "created"}, nil
}

type publishedEvent struct {
	Topic   string
	Payload any
}

// MockPublisher implements broker.Publisher for testing
type MockPublisher struct {
	mu        sync.Mutex
	Err       error
	Published []publishedEvent
}

func (m *MockPublisher) Publish(_ context.Context, topic string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Published = append(m.Published, publishedEvent{Topic: topic, Payload: payload})
	return nil
}

func (m *MockPublisher) OnTopic(topic string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []any
	for _, e := range m.Published {
		if e.Topic == topic {
			out = append(out, e.Payload)
		}
	}
	return out
}
