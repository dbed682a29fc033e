package service

import (
	"context"
	"errors"
	"time"

	"cravvr/internal/apperr"
	"cravvr/internal/models"
	"cravvr/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderRepository is the order persistence used by OrderService
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderView(ctx context.Context, id uuid.UUID) (*models.OrderView, error)
	ListActiveOrders(ctx context.Context, truckID uuid.UUID) ([]models.OrderView, error)
	GetTruck(ctx context.Context, id uuid.UUID) (*models.Truck, error)
	TransitionOrder(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, rejectedReason *string, check store.TransitionCheck) (*models.Order, error)
}

// PaymentRepository is the payment persistence used by PaymentService
type PaymentRepository interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetTruck(ctx context.Context, id uuid.UUID) (*models.Truck, error)
	SetTruckStripeAccount(ctx context.Context, truckID uuid.UUID, accountID string) (string, error)
	UpdateTruckOnboarding(ctx context.Context, accountID string, chargesEnabled, complete bool) error
	RecordPaymentIntent(ctx context.Context, payment *models.Payment) (*models.Order, error)
	GetLatestPaymentForOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	MarkPaymentRefunded(ctx context.Context, paymentID uuid.UUID, refundID, reason string) (*models.Order, error)
	SettlePayment(ctx context.Context, paymentIntentID string, to models.PaymentStatus) (*models.Order, error)
}

// EventPublisher emits committed order changes
type EventPublisher interface {
	PublishOrderChange(ctx context.Context, event *models.OrderChangeEvent) error
}

// Locker runs fn while holding a named distributed lock.
// It returns redisclient.ErrLockHeld when another caller holds the lock.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// translate maps store sentinels to structured errors
func translate(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.NotFound, notFound)
	}
	return apperr.Wrap(err)
}

// withTimeout bounds ctx by d when d is positive
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// publish emits a change event after commit. Failures are logged; the committed row is the source of truth.
func publish(ctx context.Context, pub EventPublisher, logger *zap.Logger, changeType models.ChangeType, order *models.Order) {
	if pub == nil || order == nil {
		return
	}
	if err := pub.PublishOrderChange(ctx, models.NewOrderChangeEvent(changeType, order)); err != nil {
		logger.Error("Failed to publish order change",
			zap.Error(err),
			zap.String("order_id", order.ID.String()),
			zap.Int64("version", order.Version))
	}
}

func uuidAttr(key string, id uuid.UUID) zap.Field {
	return zap.String(key, id.String())
}
