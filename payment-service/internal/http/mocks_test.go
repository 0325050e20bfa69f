package http

import (
	"context"

	"github.com/fjod/commerce-pipeline/payment-service/internal/domain"
	"github.com/fjod/commerce-pipeline/payment-service/internal/service"
	"github.com/fjod/commerce-pipeline/pkg/auth"
)

type MockWorkflow struct {
	Payment  *domain.Payment
	Payments []*domain.Payment
	Err      error

	GotCaller   auth.Principal
	GotOrderID  string
	GotCallback service.Callback
}

func (m *MockWorkflow) CreatePayment(_ context.Context, p auth.Principal, orderID string) (*domain.Payment, error) {
	m.GotCaller = p
	m.GotOrderID = orderID
	return m.Payment, m.Err
}

func (m *MockWorkflow) VerifyPayment(_ context.Context, p auth.Principal, cb service.Callback) (*domain.Payment, error) {
	m.GotCaller = p
	m.GotCallback = cb
	return m.Payment, m.Err
}

func (m *MockWorkflow) PaymentsForOrder(_ context.Context, p auth.Principal, orderID string) ([]*domain.Payment, error) {
	m.GotCaller = p
	m.GotOrderID = orderID
	return m.Payments, m.Err
}
