package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType distinguishes realtime row-change events
type ChangeType string

// Change types
const (
	ChangeTypeInsert ChangeType = "INSERT"
	ChangeTypeUpdate ChangeType = "UPDATE"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderChangeEvent is emitted after an order row is inserted or updated
type OrderChangeEvent struct {
	BaseEvent
	Type    ChangeType `json:"type"`
	TruckID uuid.UUID  `json:"truck_id"`
	OrderID uuid.UUID  `json:"order_id"`
	Version int64      `json:"version"`
	Record  Order      `json:"record"`
}

// NewOrderChangeEvent builds a change event carrying the committed row
func NewOrderChangeEvent(changeType ChangeType, order *Order) *OrderChangeEvent {
	return &OrderChangeEvent{
		BaseEvent: BaseEvent{
			EventID:   uuid.New().String(),
			Timestamp: time.Now(),
		},
		Type:    changeType,
		TruckID: order.TruckID,
		OrderID: order.ID,
		Version: order.Version,
		Record:  *order,
	}
}
