package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cravvr/internal/apperr"
	"cravvr/internal/kitchen"
	"cravvr/internal/lifecycle"
	"cravvr/internal/models"
	"cravvr/internal/store"
	"cravvr/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultCancelReason is recorded on refunds issued for cancelled orders without a note
const DefaultCancelReason = "Order cancelled"

// OrderRefunder reverses the succeeded payment of an order whose transition was already authorized
type OrderRefunder interface {
	RefundForOrder(ctx context.Context, order *models.Order, reason string) (*RefundResult, error)
}

// OrderService handles order lifecycle business logic
type OrderService struct {
	repo           OrderRepository
	eventPublisher EventPublisher
	refunder       OrderRefunder
	timeout        time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// NewOrderService creates a new order service.
// timeout bounds each status update including its refund phase.
func NewOrderService(repo OrderRepository, eventPublisher EventPublisher, refunder OrderRefunder, timeout time.Duration) *OrderService {
	return &OrderService{
		repo:           repo,
		eventPublisher: eventPublisher,
		refunder:       refunder,
		timeout:        timeout,
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// CreateOrderRequest represents a checkout request
type CreateOrderRequest struct {
	TruckID uuid.UUID         `json:"truck_id" binding:"required"`
	Items   []models.LineItem `json:"items" binding:"required,min=1"`
	Notes   string            `json:"notes"`
}

// StatusUpdateResult is the committed order plus the outcome of any refund it triggered.
// RefundError is set when the transition committed but the refund failed.
type StatusUpdateResult struct {
	Order       *models.Order `json:"order"`
	Refund      *RefundResult `json:"refund,omitempty"`
	RefundError *apperr.Error `json:"refund_error,omitempty"`
}

// CreateOrder places a pending order. The total is derived from the line items.
func (s *OrderService) CreateOrder(ctx context.Context, caller models.Principal, req *CreateOrderRequest) (*models.OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder", attribute.String("truck_id", req.TruckID.String()))
	defer span.End()

	if err := validateItems(req.Items); err != nil {
		return nil, err
	}

	items := models.LineItems(req.Items)
	order := &models.Order{
		TruckID:     req.TruckID,
		CustomerID:  caller.UserID,
		Items:       items,
		Notes:       strings.TrimSpace(req.Notes),
		TotalAmount: items.Total(),
		Status:      models.OrderStatusPending,
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		util.RecordError(span, err)
		return nil, translate(err, "truck not found")
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		uuidAttr("order_id", order.ID),
		uuidAttr("truck_id", order.TruckID),
		zap.Int64("order_number", order.OrderNumber),
		zap.Int64("total_amount", order.TotalAmount))

	publish(ctx, s.eventPublisher, s.logger, models.ChangeTypeInsert, order)

	view, err := s.repo.GetOrderView(ctx, order.ID)
	if err != nil {
		return &models.OrderView{Order: *order}, nil
	}
	return view, nil
}

func validateItems(items []models.LineItem) error {
	if len(items) == 0 {
		return apperr.New(apperr.Invalid, "order must contain at least one item")
	}
	for i, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return apperr.New(apperr.Invalid, fmt.Sprintf("item %d has no name", i))
		}
		if item.Quantity <= 0 {
			return apperr.New(apperr.Invalid, fmt.Sprintf("item %q must have a positive quantity", item.Name))
		}
		if item.UnitPrice < 0 {
			return apperr.New(apperr.Invalid, fmt.Sprintf("item %q has a negative price", item.Name))
		}
	}
	if models.LineItems(items).Total() <= 0 {
		return apperr.New(apperr.Invalid, "order total must be positive")
	}
	return nil
}

// UpdateOrderStatus moves an order to a new status.
//
// Authorization and the transition check run against the locked row, so of two
// conflicting requests the first to commit wins and the second fails with
// InvalidTransition. Entering rejected or cancelled with a succeeded payment then
// attempts exactly one refund; a refund failure is reported in the result and does
// not undo the transition.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, caller models.Principal, orderID uuid.UUID, to models.OrderStatus, note string) (*StatusUpdateResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus",
		attribute.String("order_id", orderID.String()),
		attribute.String("to", string(to)))
	defer span.End()

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if !to.Valid() {
		return nil, s.refused(apperr.New(apperr.Invalid, fmt.Sprintf("unknown status %q", to)))
	}

	note = strings.TrimSpace(note)
	var rejectedReason *string
	if to == models.OrderStatusRejected {
		reason := note
		if reason == "" {
			reason = models.DefaultRejectReason
		}
		rejectedReason = &reason
	}

	var from models.OrderStatus
	check := func(order *models.Order, truck *models.Truck) error {
		isOwner := truck.OwnerID == caller.UserID
		isCustomer := order.CustomerID == caller.UserID && lifecycle.CustomerMayRequest(to)
		if !isOwner && !isCustomer {
			return apperr.New(apperr.Unauthorized, "not allowed to update this order")
		}
		if order.Status == to {
			return apperr.New(apperr.InvalidTransition, fmt.Sprintf("order is already %s", to)).
				WithDetail("current", string(order.Status)).
				WithDetail("requested", string(to))
		}
		if !lifecycle.CanTransition(order.Status, to) {
			return apperr.New(apperr.InvalidTransition, fmt.Sprintf("cannot move order from %s to %s", order.Status, to)).
				WithDetail("current", string(order.Status)).
				WithDetail("requested", string(to))
		}
		from = order.Status
		return nil
	}

	updated, err := s.repo.TransitionOrder(ctx, orderID, to, rejectedReason, check)
	if err != nil {
		util.RecordError(span, err)
		if errors.Is(err, store.ErrStaleState) {
			err = apperr.New(apperr.InvalidTransition, "order changed while updating").WithDetail("requested", string(to))
		}
		return nil, s.refused(translate(err, "order not found"))
	}

	util.OrderTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("Order status updated",
		uuidAttr("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		uuidAttr("by", caller.UserID))

	publish(ctx, s.eventPublisher, s.logger, models.ChangeTypeUpdate, updated)

	result := &StatusUpdateResult{Order: updated}
	if !lifecycle.RefundsPayment(to) || updated.PaymentStatus == nil || *updated.PaymentStatus != models.PaymentStatusSucceeded {
		return result, nil
	}

	reason := note
	if reason == "" {
		reason = models.DefaultRejectReason
		if to == models.OrderStatusCancelled {
			reason = DefaultCancelReason
		}
	}

	refund, err := s.refunder.RefundForOrder(ctx, updated, reason)
	switch {
	case err == nil:
		result.Refund = refund
		if refund.Order != nil {
			result.Order = refund.Order
		}
	case apperr.Is(err, apperr.AlreadyRefunded):
		s.logger.Info("Payment already refunded", uuidAttr("order_id", orderID))
	default:
		ae, _ := apperr.As(apperr.Wrap(err))
		result.RefundError = ae
		s.logger.Error("Refund failed after status change",
			uuidAttr("order_id", orderID),
			zap.String("to", string(to)),
			zap.Error(err))
	}
	return result, nil
}

func (s *OrderService) refused(err error) error {
	util.OrderTransitionsRejected.WithLabelValues(string(apperr.KindOf(err))).Inc()
	return err
}

// GetOrder returns an order to its customer or to the owner of its truck
func (s *OrderService) GetOrder(ctx context.Context, caller models.Principal, orderID uuid.UUID) (*models.OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.String("order_id", orderID.String()))
	defer span.End()

	view, err := s.repo.GetOrderView(ctx, orderID)
	if err != nil {
		return nil, translate(err, "order not found")
	}
	if view.CustomerID == caller.UserID {
		return view, nil
	}
	if err := s.requireOwner(ctx, caller, view.TruckID); err != nil {
		return nil, err
	}
	return view, nil
}

// ListActiveOrders returns a truck's non-terminal orders, newest first
func (s *OrderService) ListActiveOrders(ctx context.Context, caller models.Principal, truckID uuid.UUID) ([]models.OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListActiveOrders", attribute.String("truck_id", truckID.String()))
	defer span.End()

	if err := s.requireOwner(ctx, caller, truckID); err != nil {
		return nil, err
	}
	views, err := s.repo.ListActiveOrders(ctx, truckID)
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Wrap(err)
	}
	return views, nil
}

// Board returns the lane snapshot of a truck's active orders
func (s *OrderService) Board(ctx context.Context, caller models.Principal, truckID uuid.UUID) (*kitchen.Board, error) {
	views, err := s.ListActiveOrders(ctx, caller, truckID)
	if err != nil {
		return nil, err
	}
	board := kitchen.BuildBoard(truckID, kitchen.EntriesFromViews(views), s.now())
	return &board, nil
}

// AuthorizeTruck checks that caller owns the truck
func (s *OrderService) AuthorizeTruck(ctx context.Context, caller models.Principal, truckID uuid.UUID) error {
	return s.requireOwner(ctx, caller, truckID)
}

func (s *OrderService) requireOwner(ctx context.Context, caller models.Principal, truckID uuid.UUID) error {
	truck, err := s.repo.GetTruck(ctx, truckID)
	if err != nil {
		return translate(err, "truck not found")
	}
	if truck.OwnerID != caller.UserID {
		return apperr.New(apperr.Unauthorized, "not the owner of this truck")
	}
	return nil
}
