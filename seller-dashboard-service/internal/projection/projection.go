// Package projection keeps the seller-facing read model built from order and
// payment events.
package projection

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/commerce-pipeline/pkg/events"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "seller_dashboard_schema_migrations"

// Metrics summarises a seller's sales. Revenue is in minor units and only counts
// orders with a completed payment.
type Metrics struct {
	Orders    int64 `json:"orders"`
	UnitsSold int64 `json:"unitsSold"`
	Revenue   int64 `json:"revenue"`
}

type Store struct {
	pool *pgxpool.Pool
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RunMigrations applies the embedded migrations. dsn is a postgres:// URL.
func RunMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func migrateURL(dsn string) string {
	u := dsn
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(u, scheme) {
			u = "pgx5://" + strings.TrimPrefix(u, scheme)
			break
		}
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "x-migrations-table=" + migrationsTable
}

// ApplyOrderCreated records an order and its lines. A message id seen before is
// skipped, and replays of the same order are upserts.
func (s *Store) ApplyOrderCreated(ctx context.Context, messageID string, ev events.OrderCreated) error {
	return s.once(ctx, messageID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO seller_orders (order_id, user_id, status, total_amount, currency, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (order_id) DO UPDATE
			SET status = EXCLUDED.status, total_amount = EXCLUDED.total_amount, currency = EXCLUDED.currency
		`, ev.ID, ev.User, ev.Status, ev.TotalPrice.Amount, ev.TotalPrice.Currency, createdAt(ev.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert order: %w", err)
		}

		batch := &pgx.Batch{}
		for _, item := range ev.Items {
			batch.Queue(`
				INSERT INTO seller_order_items (order_id, product_id, quantity, amount, currency)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (order_id, product_id) DO UPDATE
				SET quantity = EXCLUDED.quantity, amount = EXCLUDED.amount, currency = EXCLUDED.currency
			`, ev.ID, item.Product, item.Quantity, item.Price.Amount, item.Price.Currency)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to upsert order items: %w", err)
		}
		return nil
	})
}

// ApplyPayment records a payment snapshot. A COMPLETED payment is never moved
// back to PENDING by a late payment-created event.
func (s *Store) ApplyPayment(ctx context.Context, messageID string, ev events.Payment) error {
	return s.once(ctx, messageID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO seller_payments (payment_id, order_id, razorpay_order_id, status, amount, currency, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (payment_id) DO UPDATE
			SET status = CASE WHEN seller_payments.status = 'COMPLETED' THEN seller_payments.status ELSE EXCLUDED.status END,
			    amount = EXCLUDED.amount,
			    currency = EXCLUDED.currency,
			    updated_at = GREATEST(seller_payments.updated_at, EXCLUDED.updated_at)
		`, ev.ID, ev.Order, ev.RazorpayOrderID, ev.Status, ev.Price.Amount, ev.Price.Currency, createdAt(ev.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert payment: %w", err)
		}
		return nil
	})
}

// Metrics aggregates the order lines for productIDs.
func (s *Store) Metrics(ctx context.Context, productIDs []string) (Metrics, error) {
	var m Metrics
	if len(productIDs) == 0 {
		return m, nil
	}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(DISTINCT i.order_id),
			COALESCE(SUM(i.quantity), 0)::BIGINT,
			COALESCE(SUM(i.amount) FILTER (WHERE EXISTS (
				SELECT 1 FROM seller_payments p
				WHERE p.order_id = i.order_id AND p.status = 'COMPLETED'
			)), 0)::BIGINT
		FROM seller_order_items i
		WHERE i.product_id = ANY($1)
	`, productIDs).Scan(&m.Orders, &m.UnitsSold, &m.Revenue)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to query metrics: %w", err)
	}
	return m, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// once runs fn in a transaction that also records messageID, skipping messages
// already processed.
func (s *Store) once(ctx context.Context, messageID string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if messageID != "" {
		tag, err := tx.Exec(ctx,
			"INSERT INTO processed_messages (message_id) VALUES ($1) ON CONFLICT (message_id) DO NOTHING", messageID)
		if err != nil {
			return fmt.Errorf("failed to record processed message: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
