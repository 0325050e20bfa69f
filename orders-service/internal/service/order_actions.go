package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/commerce-pipeline/orders-service/internal/domain"
	"github.com/fjod/commerce-pipeline/pkg/auth"
)

type OrderPage struct {
	Orders []*domain.Order
	Total  int64
	Page   int
	Limit  int
}

// SellerOrder is an order reduced to the lines a single seller owns.
type SellerOrder struct {
	ID        string             `json:"id"`
	Status    domain.OrderStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
	Items     []domain.OrderItem `json:"items"`
}

// GetOrder returns the order to its owner or to an admin.
func (s *OrderService) GetOrder(ctx context.Context, p auth.Principal, id string) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if order.User != p.ID && !p.IsAdmin() {
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *OrderService) ownedOrder(ctx context.Context, p auth.Principal, id string) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if order.User != p.ID {
		return nil, ErrForbidden
	}
	return order, nil
}

// CancelOrder moves the caller's PENDING order to CANCELLED. Reserved stock is
// not released and no event is emitted.
func (s *OrderService) CancelOrder(ctx context.Context, p auth.Principal, id string) (*domain.Order, error) {
	order, err := s.ownedOrder(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionTo(order.Status, domain.OrderStatusCancelled) {
		return nil, IllegalTransitionError
	}

	updated, err := s.repo.TransitionStatus(ctx, id, order.Status, domain.OrderStatusCancelled)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	s.log.InfoContext(ctx, "order cancelled", "order_id", id, "user_id", p.ID)
	return updated, nil
}

// UpdateShippingAddress replaces the address of the caller's PENDING order.
func (s *OrderService) UpdateShippingAddress(ctx context.Context, p auth.Principal, id string, addr domain.Address) (*domain.Order, error) {
	if !addr.IsComplete() {
		return nil, ErrInvalidAddress
	}
	order, err := s.ownedOrder(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, IllegalTransitionError
	}

	updated, err := s.repo.UpdateShippingAddress(ctx, id, addr)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return updated, nil
}

// ListMyOrders pages through the caller's orders, newest first.
func (s *OrderService) ListMyOrders(ctx context.Context, p auth.Principal, page, limit int) (*OrderPage, error) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	orders, total, err := s.repo.ListOrdersByUserID(ctx, p.ID, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return &OrderPage{Orders: orders, Total: total, Page: page, Limit: limit}, nil
}

// SellerOrders lists every order containing one of the caller's products, with
// the lines of other sellers removed.
func (s *OrderService) SellerOrders(ctx context.Context, p auth.Principal) ([]SellerOrder, error) {
	products, err := s.catalog.ListSellerProducts(ctx, p.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to get seller products: %w", err)
	}

	owned := make(map[string]struct{}, len(products))
	ids := make([]string, 0, len(products))
	for _, product := range products {
		owned[product.ID] = struct{}{}
		ids = append(ids, product.ID)
	}

	orders, err := s.repo.FindOrdersByProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to find seller orders: %w", err)
	}

	result := make([]SellerOrder, 0, len(orders))
	for _, order := range orders {
		result = append(result, SellerOrder{
			ID:        order.ID,
			Status:    order.Status,
			CreatedAt: order.CreatedAt,
			Items:     order.ItemsFor(owned),
		})
	}
	return result, nil
}
