package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fjod/commerce-pipeline/orders-service/internal/domain"
	"github.com/fjod/commerce-pipeline/orders-service/internal/repository"
	"github.com/fjod/commerce-pipeline/pkg/peer"
)

// MockRepository is an in-memory repository.OrderRepository with the same
// conditional-update semantics as the Mongo store.
type MockRepository struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	CreateErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{orders: make(map[string]domain.Order)}
}

func (m *MockRepository) CreateOrder(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.orders[order.ID]; ok {
		return repository.ErrDuplicateOrder
	}
	m.orders[order.ID] = *order
	return nil
}

func (m *MockRepository) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (m *MockRepository) ListOrdersByUserID(_ context.Context, userID string, page, limit int) ([]*domain.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*domain.Order
	for _, o := range m.orders {
		if o.User == userID {
			o := o
			all = append(all, &o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (m *MockRepository) FindOrdersByProducts(_ context.Context, productIDs []string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}
	result := make([]*domain.Order, 0)
	for _, o := range m.orders {
		if len(o.ItemsFor(wanted)) > 0 {
			o := o
			result = append(result, &o)
		}
	}
	return result, nil
}

func (m *MockRepository) TransitionStatus(_ context.Context, id string, from, to domain.OrderStatus) (*domain.Order, error) {
	return m.updateWhen(id, from, func(o *domain.Order) { o.Status = to })
}

func (m *MockRepository) UpdateShippingAddress(_ context.Context, id string, addr domain.Address) (*domain.Order, error) {
	return m.updateWhen(id, domain.OrderStatusPending, func(o *domain.Order) { o.ShippingAddress = addr })
}

func (m *MockRepository) updateWhen(id string, status domain.OrderStatus, apply func(*domain.Order)) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if o.Status != status {
		return nil, repository.ErrStatusConflict
	}
	apply(&o)
	m.orders[id] = o
	return &o, nil
}

func (m *MockRepository) Ping(context.Context) error  { return nil }
func (m *MockRepository) Close(context.Context) error { return nil }

func (m *MockRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// MockCart implements CartReader for testing
type MockCart struct {
	Cart  peer.Cart
	Err   error
	Token string
}

func (m *MockCart) GetCart(_ context.Context, token string) (peer.Cart, error) {
	m.Token = token
	return m.Cart, m.Err
}

// MockCatalog implements CatalogReader for testing
type MockCatalog struct {
	Products       map[string]peer.Product
	Errs           map[string]error
	SellerProducts []peer.Product
	SellerErr      error
	calls          atomic.Int32
}

func (m *MockCatalog) GetProduct(_ context.Context, _, id string) (peer.Product, error) {
	m.calls.Add(1)
	if err := m.Errs[id]; err != nil {
		return peer.Product{}, err
	}
	p, ok := m.Products[id]
	if !ok {
		return peer.Product{}, &peer.UpstreamError{Service: peer.ServiceCatalog, Status: 404, Body: []byte(`{"message":"Product not found"}`)}
	}
	return p, nil
}

func (m *MockCatalog) ListSellerProducts(context.Context, string) ([]peer.Product, error) {
	return m.SellerProducts, m.SellerErr
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
