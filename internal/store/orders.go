package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cravvr/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TransitionCheck validates a requested status change against the locked order and its truck.
// Returning an error aborts the transaction and leaves the row unchanged.
type TransitionCheck func(order *models.Order, truck *models.Truck) error

const orderViewSelect = `
	SELECT o.*, COALESCE(p.full_name, '') AS customer_name
	FROM orders o
	LEFT JOIN profiles p ON p.id = o.customer_id`

// CreateOrder inserts a pending order and assigns the next per-truck order number
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		// Serializes number assignment per truck.
		var truckID uuid.UUID
		err := tx.GetContext(ctx, &truckID, "SELECT id FROM trucks WHERE id = $1 FOR UPDATE", order.TruckID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("truck %s: %w", order.TruckID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to lock truck: %w", err)
		}

		query := `
			INSERT INTO orders (order_number, truck_id, customer_id, items, notes, total_amount, status)
			VALUES (
				(SELECT COALESCE(MAX(order_number), 0) + 1 FROM orders WHERE truck_id = $1),
				$1, $2, $3, $4, $5, $6)
			RETURNING *`

		return tx.GetContext(ctx, order, query,
			order.TruckID, order.CustomerID, order.Items, order.Notes, order.TotalAmount, order.Status)
	})
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderView retrieves an order joined with the customer's name
func (s *Store) GetOrderView(ctx context.Context, id uuid.UUID) (*models.OrderView, error) {
	var view models.OrderView
	err := s.db.GetContext(ctx, &view, orderViewSelect+" WHERE o.id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListActiveOrders retrieves a truck's non-terminal orders, newest first
func (s *Store) ListActiveOrders(ctx context.Context, truckID uuid.UUID) ([]models.OrderView, error) {
	views := []models.OrderView{}
	err := s.db.SelectContext(ctx, &views, orderViewSelect+`
		WHERE o.truck_id = $1 AND o.status IN ('pending', 'confirmed', 'preparing', 'ready')
		ORDER BY o.created_at DESC`, truckID)
	return views, err
}

// TransitionOrder locks the order row, runs check, and moves the order to the new status.
// The row lock makes this the serialization point for concurrent status requests.
func (s *Store) TransitionOrder(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, rejectedReason *string, check TransitionCheck) (*models.Order, error) {
	var updated models.Order

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var order models.Order
		err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}

		var truck models.Truck
		err = tx.GetContext(ctx, &truck, "SELECT "+truckColumns+" FROM trucks WHERE id = $1", order.TruckID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("truck %s: %w", order.TruckID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load truck: %w", err)
		}

		if err := check(&order, &truck); err != nil {
			return err
		}

		err = tx.GetContext(ctx, &updated, `
			UPDATE orders
			SET status = $1,
			    rejected_reason = COALESCE($2, rejected_reason),
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $3 AND status = $4
			RETURNING *`,
			to, rejectedReason, orderID, order.Status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleState
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
