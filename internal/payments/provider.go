package payments

import (
	"context"

	"github.com/google/uuid"
)

// Webhook event types understood by the payment service
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventAccountUpdated   = "account.updated"
)

type IntentRequest struct {
	OrderID            uuid.UUID
	TruckID            uuid.UUID
	Amount             int64
	PlatformFee        int64
	Currency           string
	DestinationAccount string
	IdempotencyKey     string
}

type Intent struct {
	ID           string
	ClientSecret string
}

type RefundRequest struct {
	OrderID         uuid.UUID
	PaymentIntentID string
	Amount          int64
	Reason          string
	IdempotencyKey  string
}

type Refund struct {
	ID     string
	Status string
}

// WebhookEvent is a verified provider notification reduced to the fields we act on
type WebhookEvent struct {
	ID               string
	Type             string
	PaymentIntentID  string
	AccountID        string
	ChargesEnabled   bool
	DetailsSubmitted bool
	FailureMessage   string
}

// Provider is the hosted payments platform.
// Failures are returned as apperr provider errors carrying the provider's own message.
type Provider interface {
	CreateConnectedAccount(ctx context.Context, truckID uuid.UUID) (string, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	RefundPayment(ctx context.Context, req RefundRequest) (*Refund, error)
}

// WebhookParser verifies and decodes provider webhooks
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
