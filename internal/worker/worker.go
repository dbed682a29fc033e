package worker

import (
	"context"

	"cravvr/internal/broker"
	"cravvr/internal/models"
	"cravvr/internal/realtime"
	"cravvr/internal/util"

	"go.uber.org/zap"
)

// RealtimeRelay forwards committed order changes from Kafka to the per-truck realtime channels
type RealtimeRelay struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	publisher    realtime.Publisher
	logger       *zap.Logger
}

// NewRealtimeRelay creates a new relay worker
func NewRealtimeRelay(consumer *broker.Consumer, publisher realtime.Publisher) *RealtimeRelay {
	w := &RealtimeRelay{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		publisher:    publisher,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderChange(w.relay)
	return w
}

// Start consumes until ctx is cancelled
func (w *RealtimeRelay) Start(ctx context.Context) error {
	w.logger.Info("starting realtime relay")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RealtimeRelay) Stop() error {
	w.logger.Info("stopping realtime relay")
	return w.consumer.Close()
}

func (w *RealtimeRelay) relay(ctx context.Context, event *models.OrderChangeEvent) error {
	if err := w.publisher.Publish(ctx, event); err != nil {
		w.logger.Error("failed to relay order change",
			zap.Error(err),
			zap.String("order_id", event.OrderID.String()),
			zap.Int64("version", event.Version))
		return err
	}
	util.RealtimeEventsRelayed.WithLabelValues(string(event.Type)).Inc()
	return nil
}
