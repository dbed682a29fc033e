package kitchen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cravvr/internal/apperr"
	"cravvr/internal/models"
	"cravvr/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActionTimeout bounds a single operator action round trip
const ActionTimeout = 12 * time.Second

// StatusChange is a committed status update. RefundError is set when the order was
// rejected or cancelled but reversing its payment failed.
type StatusChange struct {
	Order       *models.Order
	RefundError *apperr.Error
}

// StatusUpdater sends a status change to the order service
type StatusUpdater interface {
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, note string) (*StatusChange, error)
}

// Refunder retries the refund of an order whose status change already committed.
// A StatusUpdater that also implements Refunder enables Display.RetryRefund.
type Refunder interface {
	RetryRefund(ctx context.Context, orderID uuid.UUID) error
}

// RefundFailedError reports a committed status change whose refund failed.
// The order keeps its new status; the refund has to be retried by the operator.
type RefundFailedError struct {
	OrderID     uuid.UUID
	OrderNumber int64
	Status      models.OrderStatus
	Err         *apperr.Error
}

func (e *RefundFailedError) Error() string {
	return fmt.Sprintf("order #%d is %s but the refund failed: %s", e.OrderNumber, e.Status, apperr.PublicMessage(e.Err))
}

func (e *RefundFailedError) Unwrap() error { return e.Err }

// OwedRefund is a refund still to be retried
type OwedRefund struct {
	OrderID     uuid.UUID
	OrderNumber int64
	Status      models.OrderStatus
	Message     string
}

type inFlightKey struct {
	orderID uuid.UUID
	kind    ActionKind
}

// Display is one kitchen screen: the selected truck's feed plus operator actions
type Display struct {
	feed    *Feed
	updater StatusUpdater
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	inFlight map[inFlightKey]struct{}
	owed     map[uuid.UUID]OwedRefund
}

// NewDisplay creates a display driving feed
func NewDisplay(feed *Feed, updater StatusUpdater) *Display {
	return &Display{
		feed:     feed,
		updater:  updater,
		timeout:  ActionTimeout,
		logger:   util.GetLogger(),
		inFlight: make(map[inFlightKey]struct{}),
		owed:     make(map[uuid.UUID]OwedRefund),
	}
}

// Feed returns the display's order feed
func (d *Display) Feed() *Feed {
	return d.feed
}

// SelectTruck switches the display to truckID. The previous subscription is closed
// before the new one opens; selecting the current truck again is a no-op.
func (d *Display) SelectTruck(ctx context.Context, truckID uuid.UUID) error {
	if d.feed.Running() && d.feed.TruckID() == truckID {
		return nil
	}
	d.feed.Stop()
	if err := d.feed.Start(ctx, truckID); err != nil {
		return fmt.Errorf("failed to open feed for truck %s: %w", truckID, err)
	}
	return nil
}

// Close stops the feed
func (d *Display) Close() {
	d.feed.Stop()
}

// InFlight reports whether the action is currently being submitted for the order
func (d *Display) InFlight(orderID uuid.UUID, kind ActionKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[inFlightKey{orderID, kind}]
	return ok
}

// Perform dispatches an operator action. The card shows the target status at once and
// reverts if the call fails. A second submission of the same action for the same order
// fails with ActionInFlight while the first is outstanding; other orders are unaffected.
// When the change commits but its refund fails, the new status is kept and a
// *RefundFailedError is returned.
func (d *Display) Perform(ctx context.Context, orderID uuid.UUID, kind ActionKind, note string) error {
	entry, ok := d.feed.entry(orderID)
	if !ok {
		return apperr.New(apperr.NotFound, "order is not on the board")
	}
	status := entry.Order.Status
	action, ok := ActionFor(status, kind)
	if !ok {
		return apperr.New(apperr.InvalidTransition, fmt.Sprintf("cannot %s an order that is %s", kind, status))
	}
	note = strings.TrimSpace(note)
	if action.NeedsReason && note == "" {
		return apperr.New(apperr.Invalid, "a reason is required")
	}

	key := inFlightKey{orderID, kind}
	d.mu.Lock()
	if _, busy := d.inFlight[key]; busy {
		d.mu.Unlock()
		return apperr.New(apperr.ActionInFlight, "action already in progress")
	}
	d.inFlight[key] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, key)
		d.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	restore, _ := d.feed.setLocalStatus(orderID, action.Target)

	change, err := d.updater.UpdateOrderStatus(ctx, orderID, action.Target, note)
	if err == nil && change.Order == nil {
		err = apperr.New(apperr.Internal, "order service returned no order")
	}
	if err != nil {
		restore()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = apperr.New(apperr.Timeout, "the order service did not respond in time")
		}
		d.logger.Warn("order action failed",
			zap.String("order_id", orderID.String()),
			zap.String("action", string(kind)),
			zap.Error(err))
		return err
	}

	d.feed.Merge(*change.Order)
	if change.RefundError == nil {
		return nil
	}

	refundErr := &RefundFailedError{
		OrderID:     orderID,
		OrderNumber: entry.Order.OrderNumber,
		Status:      change.Order.Status,
		Err:         change.RefundError,
	}
	d.mu.Lock()
	d.owed[orderID] = OwedRefund{
		OrderID:     orderID,
		OrderNumber: entry.Order.OrderNumber,
		Status:      change.Order.Status,
		Message:     apperr.PublicMessage(change.RefundError),
	}
	d.mu.Unlock()
	d.logger.Warn("order updated but refund failed",
		zap.String("order_id", orderID.String()),
		zap.String("status", string(change.Order.Status)),
		zap.String("kind", string(change.RefundError.Kind)))
	return refundErr
}

// OwedRefunds lists refunds that failed after their status change, by order number
func (d *Display) OwedRefunds() []OwedRefund {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]OwedRefund, 0, len(d.owed))
	for _, r := range d.owed {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out
}

// RetryRefund asks the order service to refund an order again.
// The order leaves the owed list once the refund succeeds.
func (d *Display) RetryRefund(ctx context.Context, orderID uuid.UUID) error {
	refunder, ok := d.updater.(Refunder)
	if !ok {
		return apperr.New(apperr.Internal, "refunds are not available on this display")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := refunder.RetryRefund(ctx, orderID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = apperr.New(apperr.Timeout, "the order service did not respond in time")
		}
		return err
	}

	d.mu.Lock()
	delete(d.owed, orderID)
	d.mu.Unlock()
	d.logger.Info("refund retried", zap.String("order_id", orderID.String()))
	return nil
}

// NewRejectDialog opens reason capture for rejecting an order
func (d *Display) NewRejectDialog(orderID uuid.UUID) *RejectDialog {
	return NewRejectDialog(func(ctx context.Context, reason string) error {
		return d.Perform(ctx, orderID, ActionReject, reason)
	})
}
