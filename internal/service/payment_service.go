package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cravvr/internal/apperr"
	"cravvr/internal/lifecycle"
	"cravvr/internal/models"
	"cravvr/internal/payments"
	"cravvr/internal/redisclient"
	"cravvr/internal/store"
	"cravvr/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RetryReason marks a refund request that should succeed quietly when the payment is already refunded
const RetryReason = "retry"

const (
	refundLockTTL     = 30 * time.Second
	onboardingLockTTL = 30 * time.Second
)

// PaymentConfig holds the payment settings the service needs
type PaymentConfig struct {
	FeePercent      decimal.Decimal
	Currency        string
	ReturnURL       string
	RefreshURL      string
	ProviderTimeout time.Duration
}

// PaymentService handles connected-account onboarding, payment intents, refunds and provider webhooks
type PaymentService struct {
	repo           PaymentRepository
	provider       payments.Provider
	webhooks       payments.WebhookParser
	locker         Locker
	eventPublisher EventPublisher
	cfg            PaymentConfig
	logger         *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	repo PaymentRepository,
	provider payments.Provider,
	webhooks payments.WebhookParser,
	locker Locker,
	eventPublisher EventPublisher,
	cfg PaymentConfig,
) *PaymentService {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &PaymentService{
		repo:           repo,
		provider:       provider,
		webhooks:       webhooks,
		locker:         locker,
		eventPublisher: eventPublisher,
		cfg:            cfg,
		logger:         util.GetLogger(),
	}
}

// OnboardingResult carries the hosted onboarding link for a truck's connected account
type OnboardingResult struct {
	OnboardingURL string `json:"onboarding_url"`
	AccountID     string `json:"account_id"`
}

// IntentResult is returned to the paying customer
type IntentResult struct {
	ClientSecret    string `json:"client_secret"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int64  `json:"amount"`
	PlatformFee     int64  `json:"platform_fee"`
}

// RefundResult describes a completed refund
type RefundResult struct {
	RefundID string        `json:"refund_id"`
	Status   string        `json:"status"`
	Amount   int64         `json:"amount"`
	Order    *models.Order `json:"-"`
}

// CreateConnectOnboarding creates the truck's connected account on first use and
// returns a fresh onboarding link for it
func (s *PaymentService) CreateConnectOnboarding(ctx context.Context, caller models.Principal, truckID uuid.UUID, returnURL, refreshURL string) (*OnboardingResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateConnectOnboarding", attribute.String("truck_id", truckID.String()))
	defer span.End()

	if returnURL == "" {
		returnURL = s.cfg.ReturnURL
	}
	if refreshURL == "" {
		refreshURL = s.cfg.RefreshURL
	}

	truck, err := s.repo.GetTruck(ctx, truckID)
	if err != nil {
		return nil, translate(err, "truck not found")
	}
	if truck.OwnerID != caller.UserID {
		return nil, apperr.New(apperr.Unauthorized, "not the owner of this truck")
	}

	var result *OnboardingResult
	err = s.withLock(ctx, "onboard:"+truckID.String(), onboardingLockTTL, "onboarding already in progress", func(ctx context.Context) error {
		ctx, cancel := withTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()

		// Re-read under the lock so only one account is ever created per truck.
		truck, err := s.repo.GetTruck(ctx, truckID)
		if err != nil {
			return translate(err, "truck not found")
		}

		accountID := ""
		if truck.StripeAccountID != nil {
			accountID = *truck.StripeAccountID
		}
		if accountID == "" {
			created, err := s.provider.CreateConnectedAccount(ctx, truckID)
			if err != nil {
				return err
			}
			if accountID, err = s.repo.SetTruckStripeAccount(ctx, truckID, created); err != nil {
				return translate(err, "truck not found")
			}
			s.logger.Info("Connected account created", uuidAttr("truck_id", truckID), zap.String("account_id", accountID))
		}

		url, err := s.provider.CreateOnboardingLink(ctx, accountID, refreshURL, returnURL)
		if err != nil {
			return err
		}
		result = &OnboardingResult{OnboardingURL: url, AccountID: accountID}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Wrap(err)
	}
	return result, nil
}

// CreatePaymentIntent opens a payment for an order with the platform fee split off.
//
// The amount is re-derived from the stored line items; a caller amount that does
// not match is refused. The provider call uses a per-order idempotency key, so a
// retried request returns the same intent.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, caller models.Principal, orderID, truckID uuid.UUID, amount int64) (*IntentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePaymentIntent",
		attribute.String("order_id", orderID.String()),
		attribute.Int64("amount", amount))
	defer span.End()

	result, err := s.createPaymentIntent(ctx, caller, orderID, truckID, amount)
	if err != nil {
		util.RecordError(span, err)
		util.PaymentIntentsTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, err
	}
	util.PaymentIntentsTotal.WithLabelValues("created").Inc()
	util.PlatformFeeMinorUnits.Add(float64(result.PlatformFee))
	return result, nil
}

func (s *PaymentService) createPaymentIntent(ctx context.Context, caller models.Principal, orderID, truckID uuid.UUID, amount int64) (*IntentResult, error) {
	if amount <= 0 {
		return nil, apperr.New(apperr.Invalid, "amount must be positive")
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, translate(err, "order not found")
	}
	if order.CustomerID != caller.UserID {
		return nil, apperr.New(apperr.Unauthorized, "not the customer of this order")
	}
	if order.TruckID != truckID {
		return nil, apperr.New(apperr.Invalid, "order does not belong to this truck")
	}
	if order.Status.Terminal() {
		return nil, apperr.New(apperr.Invalid, fmt.Sprintf("order is %s", order.Status))
	}
	if ps := order.PaymentStatus; ps != nil && (*ps == models.PaymentStatusSucceeded || *ps == models.PaymentStatusRefunded) {
		return nil, apperr.New(apperr.Invalid, "order is already paid")
	}

	total := order.Items.Total()
	if amount != total {
		return nil, apperr.New(apperr.Invalid, "amount does not match order total").
			WithDetail("expected", fmt.Sprintf("%d", total))
	}

	truck, err := s.repo.GetTruck(ctx, truckID)
	if err != nil {
		return nil, translate(err, "truck not found")
	}
	if !truck.AcceptsPayments() {
		return nil, apperr.New(apperr.PaymentsNotEnabled, "this truck is not accepting online payments yet")
	}

	fee := payments.PlatformFee(total, s.cfg.FeePercent)

	providerCtx, cancel := withTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	intent, err := s.provider.CreatePaymentIntent(providerCtx, payments.IntentRequest{
		OrderID:            orderID,
		TruckID:            truckID,
		Amount:             total,
		PlatformFee:        fee,
		Currency:           s.cfg.Currency,
		DestinationAccount: *truck.StripeAccountID,
		IdempotencyKey:     "intent-" + orderID.String(),
	})
	if err != nil {
		return nil, apperr.Wrap(err)
	}

	updated, err := s.repo.RecordPaymentIntent(ctx, &models.Payment{
		OrderID:         orderID,
		TruckID:         truckID,
		CustomerID:      order.CustomerID,
		PaymentIntentID: intent.ID,
		Amount:          total,
		PlatformFee:     fee,
		Currency:        s.cfg.Currency,
		Status:          models.PaymentStatusProcessing,
	})
	if err != nil {
		return nil, translate(err, "order not found")
	}

	s.logger.Info("Payment intent created",
		uuidAttr("order_id", orderID),
		zap.String("payment_intent_id", intent.ID),
		zap.Int64("amount", total),
		zap.Int64("platform_fee", fee))

	publish(ctx, s.eventPublisher, s.logger, models.ChangeTypeUpdate, updated)

	return &IntentResult{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          total,
		PlatformFee:     fee,
	}, nil
}

// RefundOrderPayment fully refunds the succeeded payment of an order on behalf of the truck owner
func (s *PaymentService) RefundOrderPayment(ctx context.Context, caller models.Principal, orderID uuid.UUID, reason string) (*RefundResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RefundOrderPayment", attribute.String("order_id", orderID.String()))
	defer span.End()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, translate(err, "order not found")
	}
	truck, err := s.repo.GetTruck(ctx, order.TruckID)
	if err != nil {
		return nil, translate(err, "truck not found")
	}
	if truck.OwnerID != caller.UserID {
		return nil, apperr.New(apperr.Unauthorized, "not the owner of this truck")
	}

	result, err := s.refund(ctx, order, reason)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// RefundForOrder refunds an order whose caller was authorized by the status transition
func (s *PaymentService) RefundForOrder(ctx context.Context, order *models.Order, reason string) (*RefundResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RefundForOrder", attribute.String("order_id", order.ID.String()))
	defer span.End()

	result, err := s.refund(ctx, order, reason)
	if err != nil {
		util.RecordError(span, err)
	}
	return result, err
}

func (s *PaymentService) refund(ctx context.Context, order *models.Order, reason string) (*RefundResult, error) {
	reason = strings.TrimSpace(reason)

	var result *RefundResult
	err := s.withLock(ctx, "refund:"+order.ID.String(), refundLockTTL, "refund already in progress", func(ctx context.Context) error {
		payment, err := s.repo.GetLatestPaymentForOrder(ctx, order.ID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.NoSuccessfulPayment, "no successful payment for this order")
		}
		if err != nil {
			return apperr.Wrap(err)
		}

		switch payment.Status {
		case models.PaymentStatusRefunded:
			if reason == RetryReason {
				result = storedRefund(payment)
				return nil
			}
			return apperr.New(apperr.AlreadyRefunded, "payment already refunded")
		case models.PaymentStatusSucceeded:
		default:
			return apperr.New(apperr.NoSuccessfulPayment, "no successful payment for this order").
				WithDetail("payment_status", string(payment.Status))
		}

		storedReason := reason
		if storedReason == "" || storedReason == RetryReason {
			storedReason = models.DefaultRejectReason
		}

		providerCtx, cancel := withTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()

		refund, err := s.provider.RefundPayment(providerCtx, payments.RefundRequest{
			OrderID:         order.ID,
			PaymentIntentID: payment.PaymentIntentID,
			Amount:          payment.Amount,
			Reason:          storedReason,
			IdempotencyKey:  "refund-" + payment.ID.String(),
		})
		if err != nil {
			return apperr.Wrap(err)
		}

		updated, err := s.repo.MarkPaymentRefunded(ctx, payment.ID, refund.ID, storedReason)
		if errors.Is(err, store.ErrStaleState) {
			return apperr.New(apperr.AlreadyRefunded, "payment already refunded")
		}
		if err != nil {
			return apperr.Wrap(err)
		}

		s.logger.Info("Payment refunded",
			uuidAttr("order_id", order.ID),
			zap.String("refund_id", refund.ID),
			zap.Int64("amount", payment.Amount),
			zap.String("reason", storedReason))

		publish(ctx, s.eventPublisher, s.logger, models.ChangeTypeUpdate, updated)

		result = &RefundResult{RefundID: refund.ID, Status: refund.Status, Amount: payment.Amount, Order: updated}
		return nil
	})
	if err != nil {
		util.RefundsTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, apperr.Wrap(err)
	}
	util.RefundsTotal.WithLabelValues("refunded").Inc()
	return result, nil
}

func storedRefund(p *models.Payment) *RefundResult {
	r := &RefundResult{Status: "succeeded", Amount: p.RefundAmount}
	if p.RefundID != nil {
		r.RefundID = *p.RefundID
	}
	return r
}

// HandleWebhook applies a verified provider notification.
// Notifications for unknown or already settled payments are acknowledged and ignored.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	event, err := s.webhooks.ParseWebhook(payload, signature)
	if err != nil {
		util.RecordError(span, err)
		return apperr.Wrap(err)
	}
	span.SetAttributes(attribute.String("event_type", event.Type))

	switch event.Type {
	case payments.EventPaymentSucceeded, payments.EventPaymentFailed:
		to := models.PaymentStatusSucceeded
		if event.Type == payments.EventPaymentFailed {
			to = models.PaymentStatusFailed
		}
		updated, err := s.repo.SettlePayment(ctx, event.PaymentIntentID, to)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrStaleState) {
			s.logger.Info("Ignoring webhook for unknown or settled payment",
				zap.String("event_id", event.ID),
				zap.String("payment_intent_id", event.PaymentIntentID))
			return nil
		}
		if err != nil {
			return apperr.Wrap(err)
		}
		s.logger.Info("Payment settled",
			zap.String("payment_intent_id", event.PaymentIntentID),
			zap.String("status", string(to)),
			zap.String("failure", event.FailureMessage))
		publish(ctx, s.eventPublisher, s.logger, models.ChangeTypeUpdate, updated)

		if to == models.PaymentStatusSucceeded && lifecycle.RefundsPayment(updated.Status) {
			s.refundSettledAfterClose(ctx, updated)
		}

	case payments.EventAccountUpdated:
		err := s.repo.UpdateTruckOnboarding(ctx, event.AccountID, event.ChargesEnabled, event.DetailsSubmitted)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("Ignoring account update for unknown account", zap.String("account_id", event.AccountID))
			return nil
		}
		if err != nil {
			return apperr.Wrap(err)
		}
		s.logger.Info("Truck onboarding updated",
			zap.String("account_id", event.AccountID),
			zap.Bool("charges_enabled", event.ChargesEnabled))

	default:
		s.logger.Debug("Ignoring webhook event", zap.String("type", event.Type))
	}
	return nil
}

// refundSettledAfterClose refunds a payment that succeeded after its order was rejected or cancelled.
// The webhook is acknowledged either way; a failed refund is left for the owner to retry.
func (s *PaymentService) refundSettledAfterClose(ctx context.Context, order *models.Order) {
	reason := DefaultCancelReason
	if order.Status == models.OrderStatusRejected {
		reason = models.DefaultRejectReason
		if order.RejectedReason != nil && *order.RejectedReason != "" {
			reason = *order.RejectedReason
		}
	}

	result, err := s.refund(ctx, order, reason)
	if err != nil {
		util.LateSettlementRefunds.WithLabelValues(string(apperr.KindOf(err))).Inc()
		s.logger.Error("Failed to refund payment settled after order closed",
			uuidAttr("order_id", order.ID),
			zap.String("order_status", string(order.Status)),
			zap.Error(err))
		return
	}
	util.LateSettlementRefunds.WithLabelValues("refunded").Inc()
	s.logger.Info("Refunded payment settled after order closed",
		uuidAttr("order_id", order.ID),
		zap.String("order_status", string(order.Status)),
		zap.String("refund_id", result.RefundID))
}

func (s *PaymentService) withLock(ctx context.Context, key string, ttl time.Duration, heldMessage string, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, key, ttl, fn)
	if errors.Is(err, redisclient.ErrLockHeld) {
		return apperr.New(apperr.ActionInFlight, heldMessage)
	}
	return err
}
