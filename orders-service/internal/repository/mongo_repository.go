package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/commerce-pipeline/orders-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoRepository struct {
	db         *mongo.Database
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) OrderRepository {
	return &mongoRepository{
		db:         db,
		collection: db.Collection("orders"),
	}
}

func (m *mongoRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	if _, err := m.collection.InsertOne(ctx, order); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (m *mongoRepository) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

func (m *mongoRepository) ListOrdersByUserID(ctx context.Context, userID string, page, limit int) ([]*domain.Order, int64, error) {
	filter := bson.M{"user_id": userID}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	orders, err := m.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}

	total, err := m.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return orders, total, nil
}

func (m *mongoRepository) FindOrdersByProducts(ctx context.Context, productIDs []string) ([]*domain.Order, error) {
	if len(productIDs) == 0 {
		return []*domain.Order{}, nil
	}
	filter := bson.M{"items.product": bson.M{"$in": productIDs}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return m.find(ctx, filter, opts)
}

func (m *mongoRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.Order, error) {
	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	defer cursor.Close(ctx)

	orders := make([]*domain.Order, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	return orders, nil
}

// TransitionStatus moves the order from one status to another in a single
// conditional update, so two concurrent transitions cannot both succeed.
func (m *mongoRepository) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus) (*domain.Order, error) {
	update := bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}}
	return m.updateWhenStatus(ctx, id, from, update)
}

// UpdateShippingAddress replaces the address while the order is still PENDING.
func (m *mongoRepository) UpdateShippingAddress(ctx context.Context, id string, addr domain.Address) (*domain.Order, error) {
	update := bson.M{"$set": bson.M{"shipping_address": addr, "updated_at": time.Now().UTC()}}
	return m.updateWhenStatus(ctx, id, domain.OrderStatusPending, update)
}

func (m *mongoRepository) updateWhenStatus(ctx context.Context, id string, status domain.OrderStatus, update bson.M) (*domain.Order, error) {
	filter := bson.M{"_id": id, "status": status}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var order domain.Order
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&order)
	if err == nil {
		return &order, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	n, err := m.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to check order: %w", err)
	}
	if n == 0 {
		return nil, ErrOrderNotFound
	}
	return nil, ErrStatusConflict
}

func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "items.product", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *mongoRepository) Ping(ctx context.Context) error {
	return m.db.Client().Ping(ctx, nil)
}

func (m *mongoRepository) Close(ctx context.Context) error {
	return m.db.Client().Disconnect(ctx)
}

// EnsureIndexes creates the order indexes when repo is Mongo-backed.
func EnsureIndexes(ctx context.Context, repo OrderRepository) error {
	if mr, ok := repo.(*mongoRepository); ok {
		return mr.CreateIndexes(ctx)
	}
	return nil
}
