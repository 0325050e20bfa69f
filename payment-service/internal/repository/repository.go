package repository

import (
	"context"
	"errors"

	"github.com/fjod/commerce-pipeline/payment-service/internal/domain"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrDuplicatePayment = errors.New("payment for this gateway order already exists")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SSLMode           string
	MigrationsDirPath string
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	GetByRazorpayOrderID(ctx context.Context, razorpayOrderID string) (*domain.Payment, error)
	ListByOrderID(ctx context.Context, orderID string) ([]*domain.Payment, error)
	// CompletePending moves the PENDING payment for razorpayOrderID to COMPLETED.
	// It returns ErrPaymentNotFound when no PENDING row matches.
	CompletePending(ctx context.Context, razorpayOrderID, paymentID, signature string) (*domain.Payment, error)
	RunMigrations(*Credentials) error
	Ping(ctx context.Context) error
	Close() error
}
