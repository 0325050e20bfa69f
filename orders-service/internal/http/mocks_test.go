package http

import (
	"context"

	"github.com/fjod/commerce-pipeline/orders-service/internal/domain"
	"github.com/fjod/commerce-pipeline/orders-service/internal/service"
	"github.com/fjod/commerce-pipeline/pkg/auth"
)

// MockWorkflow implements OrderWorkflow for testing
type MockWorkflow struct {
	Order      *domain.Order
	Page       *service.OrderPage
	Seller     []service.SellerOrder
	Err        error
	GotAddress domain.Address
	GotID      string
	GotPage    int
	GotLimit   int
	GotCaller  auth.Principal
}

func (m *MockWorkflow) CreateOrder(_ context.Context, p auth.Principal, addr domain.Address) (*domain.Order, error) {
	m.GotCaller, m.GotAddress = p, addr
	return m.Order, m.Err
}

func (m *MockWorkflow) GetOrder(_ context.Context, p auth.Principal, id string) (*domain.Order, error) {
	m.GotCaller, m.GotID = p, id
	return m.Order, m.Err
}

func (m *MockWorkflow) CancelOrder(_ context.Context, p auth.Principal, id string) (*domain.Order, error) {
	m.GotCaller, m.GotID = p, id
	return m.Order, m.Err
}

func (m *MockWorkflow) UpdateShippingAddress(_ context.Context, p auth.Principal, id string, addr domain.Address) (*domain.Order, error) {
	m.GotCaller, m.GotID, m.GotAddress = p, id, addr
	return m.Order, m.Err
}

func (m *MockWorkflow) ListMyOrders(_ context.Context, p auth.Principal, page, limit int) (*service.OrderPage, error) {
	m.GotCaller, m.GotPage, m.GotLimit = p, page, limit
	return m.Page, m.Err
}

func (m *MockWorkflow) SellerOrders(_ context.Context, p auth.Principal) ([]service.SellerOrder, error) {
	m.GotCaller = p
	return m.Seller, m.Err
}
