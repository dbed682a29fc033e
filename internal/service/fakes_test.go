package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"cravvr/internal/models"
	"cravvr/internal/payments"
	"cravvr/internal/redisclient"
	"cravvr/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memRepo mirrors the Postgres store in memory. The mutex stands in for the row lock.
type memRepo struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*models.Order
	trucks   map[uuid.UUID]*models.Truck
	names    map[uuid.UUID]string
	payments []*models.Payment
	clock    time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders: make(map[uuid.UUID]*models.Order),
		trucks: make(map[uuid.UUID]*models.Truck),
		names:  make(map[uuid.UUID]string),
		clock:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (r *memRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *memRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trucks[order.TruckID]; !ok {
		return fmt.Errorf("truck %s: %w", order.TruckID, store.ErrNotFound)
	}
	var n int64
	for _, o := range r.orders {
		if o.TruckID == order.TruckID && o.OrderNumber > n {
			n = o.OrderNumber
		}
	}
	order.ID = uuid.New()
	order.OrderNumber = n + 1
	order.Version = 1
	order.CreatedAt = r.tick()
	order.UpdatedAt = order.CreatedAt
	stored := *order
	r.orders[order.ID] = &stored
	return nil
}

func (r *memRepo) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) GetOrderView(ctx context.Context, id uuid.UUID) (*models.OrderView, error) {
	o, err := r.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return &models.OrderView{Order: *o, CustomerName: r.names[o.CustomerID]}, nil
}

func (r *memRepo) ListActiveOrders(ctx context.Context, truckID uuid.UUID) ([]models.OrderView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	views := []models.OrderView{}
	for _, o := range r.orders {
		if o.TruckID == truckID && !o.Status.Terminal() {
			views = append(views, models.OrderView{Order: *o, CustomerName: r.names[o.CustomerID]})
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].CreatedAt.After(views[j].CreatedAt) })
	return views, nil
}

func (r *memRepo) GetTruck(ctx context.Context, id uuid.UUID) (*models.Truck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trucks[id]
	if !ok {
		return nil, fmt.Errorf("truck %s: %w", id, store.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) TransitionOrder(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, rejectedReason *string, check store.TransitionCheck) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	locked := *o
	truck := *r.trucks[o.TruckID]
	if err := check(&locked, &truck); err != nil {
		return nil, err
	}
	o.Status = to
	if rejectedReason != nil {
		reason := *rejectedReason
		o.RejectedReason = &reason
	}
	o.Version++
	o.UpdatedAt = r.tick()
	cp := *o
	return &cp, nil
}

func (r *memRepo) SetTruckStripeAccount(ctx context.Context, truckID uuid.UUID, accountID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trucks[truckID]
	if !ok {
		return "", fmt.Errorf("truck %s: %w", truckID, store.ErrNotFound)
	}
	if t.StripeAccountID == nil {
		t.StripeAccountID = &accountID
	}
	return *t.StripeAccountID, nil
}

func (r *memRepo) UpdateTruckOnboarding(ctx context.Context, accountID string, chargesEnabled, complete bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.trucks {
		if t.StripeAccountID != nil && *t.StripeAccountID == accountID {
			t.ChargesEnabled = chargesEnabled
			t.OnboardingComplete = complete
			return nil
		}
	}
	return fmt.Errorf("truck with account %s: %w", accountID, store.ErrNotFound)
}

func (r *memRepo) RecordPaymentIntent(ctx context.Context, payment *models.Payment) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[payment.OrderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", payment.OrderID, store.ErrNotFound)
	}
	var stored *models.Payment
	for _, p := range r.payments {
		if p.PaymentIntentID == payment.PaymentIntentID {
			stored = p
		}
	}
	if stored == nil {
		cp := *payment
		cp.ID = uuid.New()
		cp.Status = models.PaymentStatusProcessing
		cp.CreatedAt = r.tick()
		stored = &cp
		r.payments = append(r.payments, stored)
	}
	*payment = *stored

	intentID := stored.PaymentIntentID
	status := stored.Status
	o.PaymentIntentID = &intentID
	o.PaymentStatus = &status
	o.Version++
	cp := *o
	return &cp, nil
}

func (r *memRepo) GetLatestPaymentForOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.payments) - 1; i >= 0; i-- {
		if r.payments[i].OrderID == orderID {
			cp := *r.payments[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("payment for order %s: %w", orderID, store.ErrNotFound)
}

func (r *memRepo) MarkPaymentRefunded(ctx context.Context, paymentID uuid.UUID, refundID, reason string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ID != paymentID {
			continue
		}
		if p.Status != models.PaymentStatusSucceeded {
			return nil, store.ErrStaleState
		}
		p.Status = models.PaymentStatusRefunded
		p.RefundID = &refundID
		p.RefundAmount = p.Amount
		p.RefundReason = &reason
		return r.mirror(p.OrderID, models.PaymentStatusRefunded), nil
	}
	return nil, store.ErrStaleState
}

func (r *memRepo) SettlePayment(ctx context.Context, paymentIntentID string, to models.PaymentStatus) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.PaymentIntentID != paymentIntentID {
			continue
		}
		if p.Status != models.PaymentStatusProcessing {
			return nil, store.ErrStaleState
		}
		p.Status = to
		return r.mirror(p.OrderID, to), nil
	}
	return nil, fmt.Errorf("payment intent %s: %w", paymentIntentID, store.ErrNotFound)
}

func (r *memRepo) mirror(orderID uuid.UUID, status models.PaymentStatus) *models.Order {
	o := r.orders[orderID]
	o.PaymentStatus = &status
	o.Version++
	cp := *o
	return &cp
}

// seedOrder stores an order directly in the given status
func (r *memRepo) seedOrder(truckID, customerID uuid.UUID, status models.OrderStatus, items models.LineItems) *models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := &models.Order{
		ID:          uuid.New(),
		OrderNumber: int64(len(r.orders) + 1),
		TruckID:     truckID,
		CustomerID:  customerID,
		Items:       items,
		TotalAmount: items.Total(),
		Status:      status,
		Version:     1,
		CreatedAt:   r.tick(),
	}
	r.orders[o.ID] = o
	cp := *o
	return &cp
}

// seedSucceededPayment records a settled payment for an order
func (r *memRepo) seedSucceededPayment(orderID uuid.UUID, amount, fee int64) *models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.orders[orderID]
	p := &models.Payment{
		ID:              uuid.New(),
		OrderID:         orderID,
		TruckID:         o.TruckID,
		CustomerID:      o.CustomerID,
		PaymentIntentID: "pi_" + uuid.NewString()[:8],
		Amount:          amount,
		PlatformFee:     fee,
		Currency:        "usd",
		Status:          models.PaymentStatusSucceeded,
		CreatedAt:       r.tick(),
	}
	r.payments = append(r.payments, p)
	status := models.PaymentStatusSucceeded
	o.PaymentIntentID = &p.PaymentIntentID
	o.PaymentStatus = &status
	cp := *p
	return &cp
}

func (r *memRepo) payment(orderID uuid.UUID) *models.Payment {
	p, err := r.GetLatestPaymentForOrder(context.Background(), orderID)
	if err != nil {
		return nil
	}
	return p
}

func (r *memRepo) paymentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.OrderChangeEvent
}

func (p *recordingPublisher) PublishOrderChange(ctx context.Context, event *models.OrderChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) last() *models.OrderChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type harness struct {
	repo     *memRepo
	sandbox  *payments.SandboxProvider
	pub      *recordingPublisher
	locks    *redisclient.Client
	orders   *OrderService
	payments *PaymentService

	owner    models.Principal
	customer models.Principal
	stranger models.Principal
	truck    *models.Truck
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	locks := redisclient.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { locks.Close() })

	h := &harness{
		repo:     newMemRepo(),
		sandbox:  payments.NewSandboxProvider(),
		pub:      &recordingPublisher{},
		locks:    locks,
		owner:    models.Principal{UserID: uuid.New()},
		customer: models.Principal{UserID: uuid.New()},
		stranger: models.Principal{UserID: uuid.New()},
	}

	account := "acct_truck"
	h.truck = &models.Truck{
		ID:                 uuid.New(),
		OwnerID:            h.owner.UserID,
		Name:               "Taco Rig",
		StripeAccountID:    &account,
		OnboardingComplete: true,
		ChargesEnabled:     true,
	}
	h.repo.trucks[h.truck.ID] = h.truck
	h.repo.names[h.customer.UserID] = "Casey Customer"

	h.payments = NewPaymentService(h.repo, h.sandbox, h.sandbox, locks, h.pub, PaymentConfig{
		FeePercent:      decimal.NewFromInt(5),
		Currency:        "usd",
		ReturnURL:       "https://app.test/return",
		RefreshURL:      "https://app.test/refresh",
		ProviderTimeout: 5 * time.Second,
	})
	h.orders = NewOrderService(h.repo, h.pub, h.payments, 5*time.Second)
	return h
}

func (h *harness) order(status models.OrderStatus) *models.Order {
	return h.repo.seedOrder(h.truck.ID, h.customer.UserID, status, models.LineItems{
		{Name: "Taco", Quantity: 2, UnitPrice: 400},
		{Name: "Horchata", Quantity: 1, UnitPrice: 200},
	})
}
