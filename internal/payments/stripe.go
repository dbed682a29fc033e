package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cravvr/internal/apperr"
	"cravvr/internal/util"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// StripeProvider implements Provider against Stripe Connect destination charges
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	logger        *zap.Logger
}

// NewStripeProvider creates a Stripe-backed provider with its own API client
func NewStripeProvider(secretKey, webhookSecret string) *StripeProvider {
	return &StripeProvider{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		logger:        util.GetLogger(),
	}
}

// CreateConnectedAccount creates an Express account for a truck
func (p *StripeProvider) CreateConnectedAccount(ctx context.Context, truckID uuid.UUID) (string, error) {
	defer observe("create_account", time.Now())

	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx
	params.AddMetadata("truck_id", truckID.String())
	params.SetIdempotencyKey("account-" + truckID.String())

	acct, err := p.api.Accounts.New(params)
	if err != nil {
		return "", providerErr("create connected account", err)
	}
	return acct.ID, nil
}

// CreateOnboardingLink returns a hosted onboarding URL for the account
func (p *StripeProvider) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	defer observe("create_account_link", time.Now())

	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := p.api.AccountLinks.New(params)
	if err != nil {
		return "", providerErr("create onboarding link", err)
	}
	return link.URL, nil
}

// CreatePaymentIntent creates a destination charge keeping the platform fee
func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	defer observe("create_payment_intent", time.Now())

	params := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(req.Amount),
		Currency:             stripe.String(req.Currency),
		ApplicationFeeAmount: stripe.Int64(req.PlatformFee),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.DestinationAccount),
		},
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID.String())
	params.AddMetadata("truck_id", req.TruckID.String())
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, providerErr("create payment intent", err)
	}

	p.logger.Info("Payment intent created",
		zap.String("order_id", req.OrderID.String()),
		zap.String("payment_intent_id", pi.ID))

	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// RefundPayment issues a refund against a payment intent
func (p *StripeProvider) RefundPayment(ctx context.Context, req RefundRequest) (*Refund, error) {
	defer observe("refund", time.Now())

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Amount:        stripe.Int64(req.Amount),
		// Destination charges pull the transfer back from the truck and return the fee.
		ReverseTransfer:      stripe.Bool(true),
		RefundApplicationFee: stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID.String())
	params.AddMetadata("reason", req.Reason)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, providerErr("refund payment", err)
	}
	return &Refund{ID: r.ID, Status: string(r.Status)}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, apperr.New(apperr.Invalid, "invalid webhook signature").WithDetail("cause", err.Error())
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		out.PaymentIntentID = pi.ID
		if pi.LastPaymentError != nil {
			out.FailureMessage = pi.LastPaymentError.Msg
		}
	case EventAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			return nil, fmt.Errorf("failed to decode account: %w", err)
		}
		out.AccountID = acct.ID
		out.ChargesEnabled = acct.ChargesEnabled
		out.DetailsSubmitted = acct.DetailsSubmitted
	}
	return out, nil
}

func providerErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return apperr.Provider(op+" failed", errors.New(se.Msg))
	}
	return apperr.Provider(op+" failed", err)
}

func observe(op string, start time.Time) {
	util.ProviderLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
