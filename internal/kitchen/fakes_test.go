package kitchen

import (
	"context"
	"fmt"
	"sync"

	"cravvr/internal/models"
	"cravvr/internal/realtime"

	"github.com/google/uuid"
)

type fakeSubscription struct {
	events chan models.OrderChangeEvent
	once   sync.Once

	mu     sync.Mutex
	closes int
}

func (s *fakeSubscription) Events() <-chan models.OrderChangeEvent { return s.events }

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *fakeSubscription) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeSubscriber struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]*fakeSubscription
	log  []uuid.UUID
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subs: make(map[uuid.UUID][]*fakeSubscription)}
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, truckID uuid.UUID) (realtime.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &fakeSubscription{events: make(chan models.OrderChangeEvent, 16)}
	s.subs[truckID] = append(s.subs[truckID], sub)
	s.log = append(s.log, truckID)
	return sub, nil
}

func (s *fakeSubscriber) latest(truckID uuid.UUID) *fakeSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[truckID]
	return subs[len(subs)-1]
}

func (s *fakeSubscriber) subscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

type fakeFetcher struct {
	mu     sync.Mutex
	orders map[uuid.UUID]models.OrderView
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{orders: make(map[uuid.UUID]models.OrderView)}
}

func (f *fakeFetcher) put(v models.OrderView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[v.ID] = v
}

func (f *fakeFetcher) GetOrder(ctx context.Context, id uuid.UUID) (*models.OrderView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	return &v, nil
}

func (f *fakeFetcher) ListActiveOrders(ctx context.Context, truckID uuid.UUID) ([]models.OrderView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OrderView
	for _, v := range f.orders {
		if v.TruckID == truckID && !v.Status.Terminal() {
			out = append(out, v)
		}
	}
	return out, nil
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
