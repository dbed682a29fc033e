// Package realtime fans committed order changes out to per-truck subscribers over Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cravvr/internal/models"
	"cravvr/internal/util"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const subscriptionBuffer = 64

// Subscription is a live per-truck event stream. Events is closed after Close.
type Subscription interface {
	Events() <-chan models.OrderChangeEvent
	Close() error
}

// Subscriber opens truck subscriptions
type Subscriber interface {
	Subscribe(ctx context.Context, truckID uuid.UUID) (Subscription, error)
}

// Publisher sends an order change to its truck channel
type Publisher interface {
	Publish(ctx context.Context, event *models.OrderChangeEvent) error
}

type Hub struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewHub creates a hub over an existing Redis connection
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{rdb: rdb, logger: util.GetLogger()}
}

// Channel returns the pub/sub channel for a truck's orders
func Channel(truckID uuid.UUID) string {
	return fmt.Sprintf("realtime:orders:truck:%s", truckID)
}

// Publish sends event to the channel of its truck
func (h *Hub) Publish(ctx context.Context, event *models.OrderChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order change: %w", err)
	}
	if err := h.rdb.Publish(ctx, Channel(event.TruckID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish order change: %w", err)
	}
	return nil
}

// Subscribe opens a subscription on the truck channel. The subscription is confirmed
// before returning, so no event published afterwards is missed.
func (h *Hub) Subscribe(ctx context.Context, truckID uuid.UUID) (Subscription, error) {
	ps := h.rdb.Subscribe(ctx, Channel(truckID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to truck %s: %w", truckID, err)
	}

	sub := &redisSubscription{
		ps:     ps,
		events: make(chan models.OrderChangeEvent, subscriptionBuffer),
		done:   make(chan struct{}),
		logger: h.logger.With(zap.String("truck_id", truckID.String())),
	}
	util.RealtimeSubscribers.Inc()
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	events    chan models.OrderChangeEvent
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func (s *redisSubscription) Events() <-chan models.OrderChangeEvent {
	return s.events
}

// Close is safe to call more than once
func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
		util.RealtimeSubscribers.Dec()
	})
	return err
}

func (s *redisSubscription) pump() {
	defer close(s.events)

	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event models.OrderChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn("dropping malformed realtime payload", zap.Error(err))
				continue
			}
			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		}
	}
}
