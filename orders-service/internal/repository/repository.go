package repository

import (
	"context"
	"errors"

	"github.com/fjod/commerce-pipeline/orders-service/internal/domain"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order with this id already exists")
	// ErrStatusConflict means the order exists but its status no longer matches
	// the status the change was guarded on.
	ErrStatusConflict = errors.New("order status does not allow this change")
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	// ListOrdersByUserID returns one page, newest first, and the user's total order count.
	ListOrdersByUserID(ctx context.Context, userID string, page, limit int) ([]*domain.Order, int64, error)
	FindOrdersByProducts(ctx context.Context, productIDs []string) ([]*domain.Order, error)
	TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus) (*domain.Order, error)
	UpdateShippingAddress(ctx context.Context, id string, addr domain.Address) (*domain.Order, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
