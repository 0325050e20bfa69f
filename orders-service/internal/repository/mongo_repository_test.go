package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fjod/commerce-pipeline/orders-service/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestDB(t *testing.T) (OrderRepository, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, MongoConfig{URI: uri, Database: "testdb", MaxPoolSize: 10, MinPoolSize: 1})
	require.NoError(t, err)

	repo := NewMongoRepository(db)
	require.NoError(t, EnsureIndexes(ctx, repo))

	cleanup := func() {
		_ = repo.Close(ctx)
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func newOrder(user string, created time.Time, products ...string) *domain.Order {
	items := make([]domain.OrderItem, 0, len(products))
	for _, p := range products {
		items = append(items, domain.Line(p, 1, domain.Price{Amount: 100, Currency: "INR"}))
	}
	total, _ := domain.Total(items)
	return &domain.Order{
		ID:         uuid.NewString(),
		User:       user,
		Items:      items,
		Status:     domain.OrderStatusPending,
		TotalPrice: total,
		ShippingAddress: domain.Address{
			Street: "1 Main", City: "Pune", State: "MH", Zip: "411001", Country: "IN",
		},
		CreatedAt: created,
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newOrder("u1", time.Now().UTC().Truncate(time.Millisecond), "p1", "p2")
	require.NoError(t, repo.CreateOrder(ctx, order))

	got, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.User, got.User)
	assert.Equal(t, order.Items, got.Items)
	assert.Equal(t, domain.Price{Amount: 200, Currency: "INR"}, got.TotalPrice)
	assert.Equal(t, order.ShippingAddress, got.ShippingAddress)
	assert.Equal(t, domain.OrderStatusPending, got.Status)

	assert.ErrorIs(t, repo.CreateOrder(ctx, order), ErrDuplicateOrder)
}

func TestGetOrder_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	order, err := repo.GetOrderByID(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Nil(t, order)
}

func TestListOrdersByUserID_PagesNewestFirst(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		o := newOrder("u1", base.Add(time.Duration(i)*time.Minute), "p1")
		require.NoError(t, repo.CreateOrder(ctx, o))
		ids = append(ids, o.ID)
	}
	require.NoError(t, repo.CreateOrder(ctx, newOrder("u2", base, "p1")))

	page1, total, err := repo.ListOrdersByUserID(ctx, "u1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page1, 2)
	assert.Equal(t, ids[2], page1[0].ID)
	assert.Equal(t, ids[1], page1[1].ID)

	page2, _, err := repo.ListOrdersByUserID(ctx, "u1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, ids[0], page2[0].ID)
}

func TestFindOrdersByProducts(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	withP1 := newOrder("u1", time.Now().UTC(), "p1", "p9")
	withP2 := newOrder("u2", time.Now().UTC(), "p2")
	other := newOrder("u3", time.Now().UTC(), "p3")
	for _, o := range []*domain.Order{withP1, withP2, other} {
		require.NoError(t, repo.CreateOrder(ctx, o))
	}

	orders, err := repo.FindOrdersByProducts(ctx, []string{"p1", "p2"})
	require.NoError(t, err)
	got := make([]string, 0, len(orders))
	for _, o := range orders {
		got = append(got, o.ID)
	}
	assert.ElementsMatch(t, []string{withP1.ID, withP2.ID}, got)

	none, err := repo.FindOrdersByProducts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTransitionStatus(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newOrder("u1", time.Now().UTC(), "p1")
	require.NoError(t, repo.CreateOrder(ctx, order))

	updated, err := repo.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, updated.Status)

	_, err = repo.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = repo.TransitionStatus(ctx, "missing", domain.OrderStatusPending, domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestTransitionStatus_ConcurrentCancelSucceedsOnce(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newOrder("u1", time.Now().UTC(), "p1")
	require.NoError(t, repo.CreateOrder(ctx, order))

	var wg sync.WaitGroup
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrStatusConflict)
	}
	assert.Equal(t, 1, succeeded)
}

func TestUpdateShippingAddress(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newOrder("u1", time.Now().UTC(), "p1")
	require.NoError(t, repo.CreateOrder(ctx, order))

	addr := domain.Address{Street: "2 Side", City: "Mumbai", State: "MH", Zip: "400001", Country: "IN"}
	updated, err := repo.UpdateShippingAddress(ctx, order.ID, addr)
	require.NoError(t, err)
	assert.Equal(t, addr, updated.ShippingAddress)

	_, err = repo.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
	require.NoError(t, err)

	_, err = repo.UpdateShippingAddress(ctx, order.ID, addr)
	assert.ErrorIs(t, err, ErrStatusConflict)
}
