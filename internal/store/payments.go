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

// RecordPaymentIntent inserts a processing payment and links it to its order.
// Recording the same intent twice keeps the first row.
func (s *Store) RecordPaymentIntent(ctx context.Context, payment *models.Payment) (*models.Order, error) {
	var order models.Order

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payments (order_id, truck_id, customer_id, payment_intent_id, amount, platform_fee, currency, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (payment_intent_id) DO NOTHING`,
			payment.OrderID, payment.TruckID, payment.CustomerID, payment.PaymentIntentID,
			payment.Amount, payment.PlatformFee, payment.Currency, models.PaymentStatusProcessing)
		if err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}

		if err := tx.GetContext(ctx, payment,
			"SELECT * FROM payments WHERE payment_intent_id = $1", payment.PaymentIntentID); err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}

		err = tx.GetContext(ctx, &order, `
			UPDATE orders
			SET payment_intent_id = $1, payment_status = $2, version = version + 1, updated_at = NOW()
			WHERE id = $3
			RETURNING *`,
			payment.PaymentIntentID, payment.Status, payment.OrderID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %s: %w", payment.OrderID, ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetLatestPaymentForOrder retrieves the most recent payment for an order
func (s *Store) GetLatestPaymentForOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// MarkPaymentRefunded moves a succeeded payment to refunded and mirrors it on the order.
// It returns ErrStaleState when the payment is not in succeeded status.
func (s *Store) MarkPaymentRefunded(ctx context.Context, paymentID uuid.UUID, refundID string, reason string) (*models.Order, error) {
	var order models.Order

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var orderID uuid.UUID
		err := tx.GetContext(ctx, &orderID, `
			UPDATE payments
			SET status = $1, refund_id = $2, refund_amount = amount, refund_reason = $3, updated_at = NOW()
			WHERE id = $4 AND status = $5
			RETURNING order_id`,
			models.PaymentStatusRefunded, refundID, reason, paymentID, models.PaymentStatusSucceeded)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStaleState
		}
		if err != nil {
			return fmt.Errorf("failed to mark payment refunded: %w", err)
		}

		return tx.GetContext(ctx, &order, `
			UPDATE orders
			SET payment_status = $1, version = version + 1, updated_at = NOW()
			WHERE id = $2
			RETURNING *`, models.PaymentStatusRefunded, orderID)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SettlePayment moves a processing payment to succeeded or failed and mirrors it on the order.
// It returns ErrStaleState when the payment was already settled.
func (s *Store) SettlePayment(ctx context.Context, paymentIntentID string, to models.PaymentStatus) (*models.Order, error) {
	var order models.Order

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var current models.PaymentStatus
		err := tx.GetContext(ctx, &current,
			"SELECT status FROM payments WHERE payment_intent_id = $1 FOR UPDATE", paymentIntentID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("payment intent %s: %w", paymentIntentID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if current != models.PaymentStatusProcessing {
			return ErrStaleState
		}

		var orderID uuid.UUID
		if err := tx.GetContext(ctx, &orderID, `
			UPDATE payments SET status = $1, updated_at = NOW()
			WHERE payment_intent_id = $2
			RETURNING order_id`, to, paymentIntentID); err != nil {
			return fmt.Errorf("failed to settle payment: %w", err)
		}

		return tx.GetContext(ctx, &order, `
			UPDATE orders
			SET payment_status = $1, version = version + 1, updated_at = NOW()
			WHERE id = $2
			RETURNING *`, to, orderID)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}
