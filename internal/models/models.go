package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every known order status in lifecycle order
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusCompleted,
	OrderStatusRejected,
	OrderStatusCancelled,
}

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s accepts no further status changes
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusRejected || s == OrderStatusCancelled
}

// PaymentStatus is the lifecycle state of a payment
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// DefaultRejectReason is stored when an order is rejected without a note
const DefaultRejectReason = "Order rejected"

// LineItem is a single ordered menu item
type LineItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// LineItems is stored as a JSONB column
type LineItems []LineItem

// Total sums quantity x unit price over all items
func (li LineItems) Total() int64 {
	var total int64
	for _, item := range li {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

// Value implements driver.Valuer
func (li LineItems) Value() (driver.Value, error) {
	if li == nil {
		return "[]", nil
	}
	b, err := json.Marshal(li)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (li *LineItems) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*li = LineItems{}
		return nil
	case []byte:
		return json.Unmarshal(v, li)
	case string:
		return json.Unmarshal([]byte(v), li)
	default:
		return errors.New("line items: unsupported column type")
	}
}

// Order represents a customer order placed at a truck
type Order struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	OrderNumber     int64          `db:"order_number" json:"order_number"`
	TruckID         uuid.UUID      `db:"truck_id" json:"truck_id"`
	CustomerID      uuid.UUID      `db:"customer_id" json:"customer_id"`
	Items           LineItems      `db:"items" json:"items"`
	Notes           string         `db:"notes" json:"notes"`
	TotalAmount     int64          `db:"total_amount" json:"total_amount"`
	Status          OrderStatus    `db:"status" json:"status"`
	RejectedReason  *string        `db:"rejected_reason" json:"rejected_reason,omitempty"`
	PaymentIntentID *string        `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	PaymentStatus   *PaymentStatus `db:"payment_status" json:"payment_status,omitempty"`
	Version         int64          `db:"version" json:"version"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// OrderView is an order joined with the customer's display name
type OrderView struct {
	Order
	CustomerName string `db:"customer_name" json:"customer_name"`
}

// Truck holds the payments-relevant subset of a food truck
type Truck struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	OwnerID            uuid.UUID `db:"owner_id" json:"owner_id"`
	Name               string    `db:"name" json:"name"`
	StripeAccountID    *string   `db:"stripe_account_id" json:"stripe_account_id,omitempty"`
	OnboardingComplete bool      `db:"onboarding_complete" json:"onboarding_complete"`
	ChargesEnabled     bool      `db:"charges_enabled" json:"charges_enabled"`
}

// AcceptsPayments reports whether a payment intent may be created for the truck
func (t *Truck) AcceptsPayments() bool {
	return t.ChargesEnabled && t.StripeAccountID != nil && *t.StripeAccountID != ""
}

// Payment represents a provider payment intent recorded against an order
type Payment struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	OrderID         uuid.UUID     `db:"order_id" json:"order_id"`
	TruckID         uuid.UUID     `db:"truck_id" json:"truck_id"`
	CustomerID      uuid.UUID     `db:"customer_id" json:"customer_id"`
	PaymentIntentID string        `db:"payment_intent_id" json:"payment_intent_id"`
	Amount          int64         `db:"amount" json:"amount"`
	PlatformFee     int64         `db:"platform_fee" json:"platform_fee"`
	Currency        string        `db:"currency" json:"currency"`
	Status          PaymentStatus `db:"status" json:"status"`
	RefundID        *string       `db:"refund_id" json:"refund_id,omitempty"`
	RefundAmount    int64         `db:"refund_amount" json:"refund_amount"`
	RefundReason    *string       `db:"refund_reason" json:"refund_reason,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// Principal is the authenticated caller of an operation
type Principal struct {
	UserID uuid.UUID
}
