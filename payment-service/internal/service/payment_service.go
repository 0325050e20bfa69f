package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/commerce-pipeline/payment-service/internal/domain"
	"github.com/fjod/commerce-pipeline/payment-service/internal/gateway"
	"github.com/fjod/commerce-pipeline/payment-service/internal/repository"
	"github.com/fjod/commerce-pipeline/pkg/auth"
	"github.com/fjod/commerce-pipeline/pkg/broker"
	"github.com/fjod/commerce-pipeline/pkg/events"
	"github.com/fjod/commerce-pipeline/pkg/peer"
	"github.com/google/uuid"
)

const orderStatusPending = "PENDING"

type OrderReader interface {
	GetOrder(ctx context.Context, token, id string) (peer.Order, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (gateway.Order, error)
}

// Callback is what the checkout widget posts back after the customer pays.
type Callback struct {
	RazorpayOrderID string
	PaymentID       string
	Signature       string
}

func (c Callback) complete() bool {
	return c.RazorpayOrderID != "" && c.PaymentID != "" && c.Signature != ""
}

type PaymentService struct {
	repo      repository.PaymentRepository
	orders    OrderReader
	gateway   Gateway
	publisher broker.Publisher
	secret    string
	log       *slog.Logger
}

func NewPaymentService(repo repository.PaymentRepository, orders OrderReader, gw Gateway, publisher broker.Publisher, secret string, log *slog.Logger) *PaymentService {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentService{
		repo:      repo,
		orders:    orders,
		gateway:   gw,
		publisher: publisher,
		secret:    secret,
		log:       log,
	}
}

// CreatePayment raises a gateway order for the order total and records it as a
// PENDING payment.
func (s *PaymentService) CreatePayment(ctx context.Context, p auth.Principal, orderID string) (*domain.Payment, error) {
	order, err := s.orders.GetOrder(ctx, p.Token, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamOrderUnavailable, err)
	}
	if order.Status != orderStatusPending {
		return nil, ErrOrderNotPayable
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, order.TotalPrice.Amount, order.TotalPrice.Currency, order.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		UserID:          p.ID,
		RazorpayOrderID: gwOrder.ID,
		Price:           domain.Price{Amount: gwOrder.Amount, Currency: gwOrder.Currency},
		Status:          domain.PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if payment.Price.Currency == "" {
		payment.Price = domain.Price(order.TotalPrice)
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}
	s.log.InfoContext(ctx, "payment initiated", "payment_id", payment.ID, "order_id", payment.OrderID, "razorpay_order_id", payment.RazorpayOrderID)

	broker.PublishBestEffort(ctx, s.publisher, s.log, events.TopicPaymentCreated, payment.Event())
	broker.PublishBestEffort(ctx, s.publisher, s.log, events.TopicPaymentInitiated, events.PaymentInitiated{
		Email:    p.Email,
		OrderID:  payment.OrderID,
		Amount:   payment.Price.Amount,
		Currency: payment.Price.Currency,
		Username: p.Username,
	})
	return payment, nil
}

// VerifyPayment applies a gateway callback. Only a PENDING payment is completed,
// so a repeated callback returns ErrPaymentSettled, which is an ErrPaymentNotFound. Every
// failure is announced on the payment-failed topic.
func (s *PaymentService) VerifyPayment(ctx context.Context, p auth.Principal, cb Callback) (*domain.Payment, error) {
	payment, err := s.verify(ctx, cb)
	if err != nil {
		s.log.WarnContext(ctx, "payment verification failed", "razorpay_order_id", cb.RazorpayOrderID, "error", err)
		broker.PublishBestEffort(ctx, s.publisher, s.log, events.TopicPaymentFailed, events.PaymentFailed{
			Email:     p.Email,
			PaymentID: cb.PaymentID,
			OrderID:   cb.RazorpayOrderID,
			FullName:  p.FullName,
			Reason:    err.Error(),
		})
		return nil, err
	}
	s.log.InfoContext(ctx, "payment completed", "payment_id", payment.ID, "order_id", payment.OrderID)

	broker.PublishBestEffort(ctx, s.publisher, s.log, events.TopicPaymentCompleted, events.PaymentCompleted{
		Email:     p.Email,
		OrderID:   payment.OrderID,
		PaymentID: payment.PaymentID,
		Amount:    events.MinorToMajor(payment.Price.Amount),
		Currency:  payment.Price.Currency,
		FullName:  p.FullName,
	})
	broker.PublishBestEffort(ctx, s.publisher, s.log, events.TopicPaymentUpdated, payment.Event())
	return payment, nil
}

func (s *PaymentService) verify(ctx context.Context, cb Callback) (*domain.Payment, error) {
	if !cb.complete() {
		return nil, ErrMissingCallbackFields
	}
	if !gateway.VerifySignature(s.secret, cb.RazorpayOrderID, cb.PaymentID, cb.Signature) {
		return nil, ErrInvalidSignature
	}
	signature := gateway.Sign(s.secret, cb.RazorpayOrderID, cb.PaymentID)

	payment, err := s.repo.CompletePending(ctx, cb.RazorpayOrderID, cb.PaymentID, signature)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, s.notPending(ctx, cb.RazorpayOrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete payment: %w", err)
	}
	return payment, nil
}

// notPending tells a replayed callback for a settled payment apart from one for
// an unknown gateway order.
func (s *PaymentService) notPending(ctx context.Context, razorpayOrderID string) error {
	existing, err := s.repo.GetByRazorpayOrderID(ctx, razorpayOrderID)
	switch {
	case err == nil && existing.Status.IsTerminal():
		return ErrPaymentSettled
	case err != nil && !errors.Is(err, repository.ErrPaymentNotFound):
		s.log.WarnContext(ctx, "payment lookup failed", "razorpay_order_id", razorpayOrderID, "error", err)
	}
	return ErrPaymentNotFound
}

// PaymentsForOrder lists the payment attempts for an order the caller owns.
func (s *PaymentService) PaymentsForOrder(ctx context.Context, p auth.Principal, orderID string) ([]*domain.Payment, error) {
	if _, err := s.orders.GetOrder(ctx, p.Token, orderID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamOrderUnavailable, err)
	}
	payments, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}
