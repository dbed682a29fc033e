package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"cravvr/internal/apperr"
	"cravvr/internal/kitchen"
	"cravvr/internal/models"
	"cravvr/internal/realtime"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubscription struct {
	events chan models.OrderChangeEvent
	once   sync.Once
}

func (s *stubSubscription) Events() <-chan models.OrderChangeEvent { return s.events }

func (s *stubSubscription) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

type stubSubscriber struct{}

func (stubSubscriber) Subscribe(ctx context.Context, truckID uuid.UUID) (realtime.Subscription, error) {
	return &stubSubscription{events: make(chan models.OrderChangeEvent)}, nil
}

type stubAPI struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]models.OrderView
	updates []string

	// refundErr is returned with rejections until a retry succeeds
	refundErr *apperr.Error
	retries   []uuid.UUID
}

func (s *stubAPI) GetOrder(ctx context.Context, id uuid.UUID) (*models.OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.orders[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "order not found")
	}
	return &v, nil
}

func (s *stubAPI) ListActiveOrders(ctx context.Context, truckID uuid.UUID) ([]models.OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OrderView
	for _, v := range s.orders {
		if v.TruckID == truckID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *stubAPI) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, note string) (*kitchen.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.orders[orderID]
	v.Status = status
	v.Version++
	s.orders[orderID] = v
	s.updates = append(s.updates, string(status)+":"+note)
	o := v.Order
	change := &kitchen.StatusChange{Order: &o}
	if status == models.OrderStatusRejected {
		change.RefundError = s.refundErr
	}
	return change, nil
}

func (s *stubAPI) RetryRefund(ctx context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries = append(s.retries, orderID)
	s.refundErr = nil
	return nil
}

func newTestConsole(t *testing.T) (*console, *stubAPI, *bytes.Buffer, models.OrderView) {
	t.Helper()
	truckID := uuid.New()
	view := models.OrderView{
		Order: models.Order{
			ID: uuid.New(), OrderNumber: 7, TruckID: truckID, Status: models.OrderStatusPending, Version: 1,
			Items:       models.LineItems{{Name: "Burrito", Quantity: 2, UnitPrice: 650}},
			TotalAmount: 1300, CreatedAt: time.Now().Add(-90 * time.Second),
		},
		CustomerName: "Alex",
	}
	api := &stubAPI{orders: map[uuid.UUID]models.OrderView{view.ID: view}}

	display := kitchen.NewDisplay(kitchen.NewFeed(api, stubSubscriber{}, kitchen.FeedHooks{}), api)
	t.Cleanup(display.Close)
	require.NoError(t, display.SelectTruck(context.Background(), truckID))

	var out bytes.Buffer
	return newConsole(display, &out), api, &out, view
}

func TestConsoleRendersBoard(t *testing.T) {
	c, _, out, view := newTestConsole(t)

	c.render(view.CreatedAt.Add(90 * time.Second))

	text := out.String()
	assert.Contains(t, text, "pending: 1")
	assert.Contains(t, text, "#7 Alex")
	assert.Contains(t, text, "1m")
	assert.Contains(t, text, "$13.00")
	assert.Contains(t, text, "[confirm] [reject]")
	assert.Contains(t, text, "2x Burrito")
}

func TestConsoleActions(t *testing.T) {
	c, api, _, _ := newTestConsole(t)
	ctx := context.Background()

	require.NoError(t, c.execute(ctx, "confirm #7"))
	require.NoError(t, c.execute(ctx, "prepare 7"))
	assert.Equal(t, []string{"confirmed:", "preparing:"}, api.updates)

	err := c.execute(ctx, "complete 7")
	assert.Equal(t, apperr.InvalidTransition, apperr.KindOf(err))

	err = c.execute(ctx, "ready 99")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestConsoleReject(t *testing.T) {
	ctx := context.Background()

	t.Run("canned", func(t *testing.T) {
		c, api, _, _ := newTestConsole(t)
		require.NoError(t, c.execute(ctx, "reject 7 2"))
		assert.Equal(t, []string{"rejected:Out of ingredients"}, api.updates)
		assert.Empty(t, c.display.Feed().Entries())
	})

	t.Run("free_text", func(t *testing.T) {
		c, api, _, _ := newTestConsole(t)
		require.NoError(t, c.execute(ctx, "reject 7 grill is broken"))
		assert.Equal(t, []string{"rejected:grill is broken"}, api.updates)
	})

	t.Run("unknown_reason_number", func(t *testing.T) {
		c, api, _, _ := newTestConsole(t)
		err := c.execute(ctx, "reject 7 9")
		assert.Equal(t, apperr.Invalid, apperr.KindOf(err))
		assert.Empty(t, api.updates)
	})
}

func TestConsoleCommands(t *testing.T) {
	c, _, out, _ := newTestConsole(t)
	ctx := context.Background()

	assert.NoError(t, c.execute(ctx, "   "))
	assert.ErrorIs(t, c.execute(ctx, "quit"), errQuit)
	assert.Equal(t, apperr.Invalid, apperr.KindOf(c.execute(ctx, "dance 7")))
	assert.Equal(t, apperr.Invalid, apperr.KindOf(c.execute(ctx, "truck nope")))

	require.NoError(t, c.execute(ctx, "help"))
	assert.Contains(t, out.String(), "commands:")

	other := uuid.New()
	require.NoError(t, c.execute(ctx, "truck "+other.String()))
	assert.Equal(t, other, c.display.Feed().TruckID())
	assert.Empty(t, c.display.Feed().Entries())
}

func TestConsoleRefundRetry(t *testing.T) {
	c, api, out, view := newTestConsole(t)
	ctx := context.Background()
	api.refundErr = apperr.New(apperr.ProviderError, "card network unavailable")

	err := c.execute(ctx, "reject 7 1")
	var refundErr *kitchen.RefundFailedError
	require.ErrorAs(t, err, &refundErr)
	assert.Equal(t, int64(7), refundErr.OrderNumber)
	assert.Equal(t, []string{"rejected:Kitchen is too busy right now"}, api.updates)

	c.printError(err)
	assert.Contains(t, out.String(), "order #7 is rejected but the refund failed: card network unavailable")
	assert.Contains(t, out.String(), "type `refund 7` to retry")

	c.render(time.Now())
	assert.Contains(t, out.String(), "Refunds owed (1)")
	assert.Contains(t, out.String(), "#7 rejected: card network unavailable [refund]")

	assert.Equal(t, apperr.NotFound, apperr.KindOf(c.execute(ctx, "refund 8")))
	assert.Equal(t, apperr.Invalid, apperr.KindOf(c.execute(ctx, "refund")))

	require.NoError(t, c.execute(ctx, "refund #7"))
	assert.Equal(t, []uuid.UUID{view.ID}, api.retries)
	assert.Empty(t, c.display.OwedRefunds())
	assert.Equal(t, apperr.NotFound, apperr.KindOf(c.execute(ctx, "refund 7")))
}

func TestConsoleBell(t *testing.T) {
	c, _, out, _ := newTestConsole(t)
	out.Reset()

	c.bell()
	assert.Equal(t, "\a", out.String())
}
