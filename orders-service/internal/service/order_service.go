package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/commerce-pipeline/orders-service/internal/domain"
	"github.com/fjod/commerce-pipeline/orders-service/internal/repository"
	"github.com/fjod/commerce-pipeline/pkg/auth"
	"github.com/fjod/commerce-pipeline/pkg/broker"
	"github.com/fjod/commerce-pipeline/pkg/events"
	"github.com/fjod/commerce-pipeline/pkg/peer"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	productFetchLimit = 8
)

type CartReader interface {
	GetCart(ctx context.Context, token string) (peer.Cart, error)
}

type CatalogReader interface {
	GetProduct(ctx context.Context, token, id string) (peer.Product, error)
	ListSellerProducts(ctx context.Context, token string) ([]peer.Product, error)
}

type OrderService struct {
	repo      repository.OrderRepository
	cart      CartReader
	catalog   CatalogReader
	publisher broker.Publisher
	log       *slog.Logger
	now       func() time.Time
}

func NewOrderService(repo repository.OrderRepository, cart CartReader, catalog CatalogReader, publisher broker.Publisher, log *slog.Logger) *OrderService {
	if log == nil {
		log = slog.Default()
	}
	return &OrderService{
		repo:      repo,
		cart:      cart,
		catalog:   catalog,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder turns the caller's cart into a PENDING order. Prices and stock are
// read once from the catalog; the first line without enough stock aborts the
// attempt before anything is written.
func (s *OrderService) CreateOrder(ctx context.Context, p auth.Principal, addr domain.Address) (*domain.Order, error) {
	if !addr.IsComplete() {
		return nil, ErrInvalidAddress
	}

	cart, err := s.cart.GetCart(ctx, p.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}
	for _, item := range cart.Items {
		if item.Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
	}

	products, err := s.fetchProducts(ctx, p.Token, cart.Items)
	if err != nil {
		return nil, err
	}

	items := make([]domain.OrderItem, 0, len(cart.Items))
	for i, item := range cart.Items {
		product := products[i]
		if product.Stock < item.Quantity {
			return nil, &OutOfStockError{
				ProductID: item.ProductID,
				Title:     product.Title,
				Requested: item.Quantity,
				Available: product.Stock,
			}
		}
		items = append(items, domain.Line(item.ProductID, item.Quantity, domain.Price(product.Price)))
	}

	total, err := domain.Total(items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &domain.Order{
		ID:              uuid.NewString(),
		User:            p.ID,
		Items:           items,
		Status:          domain.OrderStatusPending,
		TotalPrice:      total,
		ShippingAddress: addr,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to save order: %w", err)
	}
	s.log.InfoContext(ctx, "order created", "order_id", order.ID, "user_id", order.User, "total", order.TotalPrice.Amount)

	broker.PublishBestEffort(ctx, s.publisher, s.log, events.TopicOrderCreated, orderCreatedEvent(order))
	return order, nil
}

// fetchProducts reads every cart product concurrently. Results keep cart order.
func (s *OrderService) fetchProducts(ctx context.Context, token string, items []peer.CartItem) ([]peer.Product, error) {
	products := make([]peer.Product, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(productFetchLimit)
	for i, item := range items {
		g.Go(func() error {
			product, err := s.catalog.GetProduct(gctx, token, item.ProductID)
			if err != nil {
				return fmt.Errorf("failed to get product %s: %w", item.ProductID, err)
			}
			products[i] = product
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}

func orderCreatedEvent(o *domain.Order) events.OrderCreated {
	items := make([]events.OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, events.OrderItem{
			Product:  item.Product,
			Quantity: item.Quantity,
			Price:    events.Price(item.Price),
		})
	}
	return events.OrderCreated{
		ID:         o.ID,
		User:       o.User,
		Items:      items,
		Status:     o.Status.String(),
		TotalPrice: events.Price(o.TotalPrice),
		CreatedAt:  o.CreatedAt,
	}
}

// mapRepoErr translates store errors into the workflow's vocabulary.
func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		return ErrOrderNotFound
	case errors.Is(err, repository.ErrStatusConflict):
		return IllegalTransitionError
	default:
		return err
	}
}
