package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"cravvr/internal/models"
	"cravvr/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing order change events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderChange publishes a committed order row, keyed by order id
func (ep *EventPublisher) PublishOrderChange(ctx context.Context, event *models.OrderChangeEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderChange func(context.Context, *models.OrderChangeEvent) error
	logger        *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderChange registers a handler for order change events
func (eh *EventHandler) OnOrderChange(handler func(context.Context, *models.OrderChangeEvent) error) {
	eh.onOrderChange = handler
}

// HandleMessage decodes a message and routes it to the registered handler.
// Malformed messages are logged and skipped so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.OrderChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		eh.logger.Warn("dropping malformed event", zap.Error(err), zap.ByteString("key", msg.Key))
		return nil
	}

	switch event.Type {
	case models.ChangeTypeInsert, models.ChangeTypeUpdate:
		if eh.onOrderChange != nil {
			return eh.onOrderChange(ctx, &event)
		}
	default:
		eh.logger.Warn("unhandled event type", zap.String("type", string(event.Type)), zap.String("event_id", event.EventID))
	}

	return nil
}
