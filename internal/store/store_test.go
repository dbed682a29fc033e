package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"cravvr/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests; they run only when TEST_DATABASE_URL points at a disposable database.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires TEST_DATABASE_URL")
	}

	s, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type fixture struct {
	owner    uuid.UUID
	customer uuid.UUID
	truck    uuid.UUID
}

func seed(t *testing.T, s *Store) fixture {
	t.Helper()
	ctx := context.Background()

	f := fixture{owner: uuid.New(), customer: uuid.New()}
	_, err := s.db.ExecContext(ctx, "INSERT INTO profiles (id, full_name) VALUES ($1, 'Owner'), ($2, 'Casey Customer')", f.owner, f.customer)
	require.NoError(t, err)
	require.NoError(t, s.db.GetContext(ctx, &f.truck,
		"INSERT INTO trucks (owner_id, name, stripe_account_id, charges_enabled) VALUES ($1, 'Taco Rig', $2, TRUE) RETURNING id",
		f.owner, "acct_"+uuid.NewString()[:8]))
	return f
}

func newOrder(f fixture) *models.Order {
	items := models.LineItems{{Name: "Taco", Quantity: 2, UnitPrice: 400}, {Name: "Horchata", Quantity: 1, UnitPrice: 200}}
	return &models.Order{
		TruckID:     f.truck,
		CustomerID:  f.customer,
		Items:       items,
		TotalAmount: items.Total(),
		Status:      models.OrderStatusPending,
	}
}

func allowAll(*models.Order, *models.Truck) error { return nil }

func TestCreateOrderAssignsSequentialNumbers(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	first := newOrder(f)
	require.NoError(t, s.CreateOrder(ctx, first))
	second := newOrder(f)
	require.NoError(t, s.CreateOrder(ctx, second))

	assert.Equal(t, int64(1), first.OrderNumber)
	assert.Equal(t, int64(2), second.OrderNumber)
	assert.Equal(t, int64(1000), first.TotalAmount)

	view, err := s.GetOrderView(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Casey Customer", view.CustomerName)
	assert.Len(t, view.Items, 2)
}

func TestTransitionOrder(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	order := newOrder(f)
	require.NoError(t, s.CreateOrder(ctx, order))

	reason := "Kitchen is too busy right now"
	updated, err := s.TransitionOrder(ctx, order.ID, models.OrderStatusRejected, &reason, allowAll)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, updated.Status)
	assert.Equal(t, reason, *updated.RejectedReason)
	assert.Equal(t, order.Version+1, updated.Version)

	refuse := errors.New("refused")
	_, err = s.TransitionOrder(ctx, order.ID, models.OrderStatusConfirmed, nil, func(*models.Order, *models.Truck) error { return refuse })
	assert.ErrorIs(t, err, refuse)

	stored, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, stored.Status)

	_, err = s.TransitionOrder(ctx, uuid.New(), models.OrderStatusConfirmed, nil, allowAll)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionOrderSerializesConcurrentRequests(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	order := newOrder(f)
	require.NoError(t, s.CreateOrder(ctx, order))

	onlyFromPending := func(o *models.Order, _ *models.Truck) error {
		if o.Status != models.OrderStatusPending {
			return errors.New("not pending")
		}
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for _, to := range []models.OrderStatus{models.OrderStatusConfirmed, models.OrderStatusRejected} {
		wg.Add(1)
		go func(to models.OrderStatus) {
			defer wg.Done()
			if _, err := s.TransitionOrder(ctx, order.ID, to, nil, onlyFromPending); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(to)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestPaymentLifecycle(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	order := newOrder(f)
	require.NoError(t, s.CreateOrder(ctx, order))

	payment := &models.Payment{
		OrderID: order.ID, TruckID: f.truck, CustomerID: f.customer,
		PaymentIntentID: "pi_" + uuid.NewString()[:8], Amount: 1000, PlatformFee: 50, Currency: "usd",
	}
	linked, err := s.RecordPaymentIntent(ctx, payment)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessing, *linked.PaymentStatus)

	_, err = s.MarkPaymentRefunded(ctx, payment.ID, "re_1", "Order rejected")
	assert.ErrorIs(t, err, ErrStaleState)

	_, err = s.SettlePayment(ctx, payment.PaymentIntentID, models.PaymentStatusSucceeded)
	require.NoError(t, err)
	_, err = s.SettlePayment(ctx, payment.PaymentIntentID, models.PaymentStatusFailed)
	assert.ErrorIs(t, err, ErrStaleState)

	refunded, err := s.MarkPaymentRefunded(ctx, payment.ID, "re_1", "Order rejected")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, *refunded.PaymentStatus)

	_, err = s.MarkPaymentRefunded(ctx, payment.ID, "re_2", "Order rejected")
	assert.ErrorIs(t, err, ErrStaleState)

	stored, err := s.GetLatestPaymentForOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.RefundAmount)
}
