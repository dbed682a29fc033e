// Package lifecycle holds the order status transition table.
//
// It is the single authority for which status changes are legal. The order
// service consults it while holding the order row lock, so concurrent
// requests are checked against the committed status, never a cached one.
package lifecycle

import "cravvr/internal/models"

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:   {models.OrderStatusConfirmed, models.OrderStatusRejected, models.OrderStatusCancelled},
	models.OrderStatusConfirmed: {models.OrderStatusPreparing, models.OrderStatusCancelled},
	models.OrderStatusPreparing: {models.OrderStatusReady, models.OrderStatusCancelled},
	models.OrderStatusReady:     {models.OrderStatusCompleted, models.OrderStatusCancelled},
}

// CanTransition reports whether an order may move from one status to another
func CanTransition(from, to models.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the statuses reachable from the given status
func Next(from models.OrderStatus) []models.OrderStatus {
	next := transitions[from]
	out := make([]models.OrderStatus, len(next))
	copy(out, next)
	return out
}

// RefundsPayment reports whether entering the status should reverse a succeeded payment
func RefundsPayment(to models.OrderStatus) bool {
	return to == models.OrderStatusRejected || to == models.OrderStatusCancelled
}

// CustomerMayRequest reports whether the customer who placed an order may request the status
func CustomerMayRequest(to models.OrderStatus) bool {
	return to == models.OrderStatusCancelled
}
