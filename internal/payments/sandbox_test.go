package payments

import (
	"context"
	"testing"

	"cravvr/internal/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxHonorsIdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	sb := NewSandboxProvider()

	req := IntentRequest{OrderID: uuid.New(), Amount: 1000, PlatformFee: 50, IdempotencyKey: "intent-1"}
	first, err := sb.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)
	second, err := sb.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	r1, err := sb.RefundPayment(ctx, RefundRequest{PaymentIntentID: first.ID, IdempotencyKey: "refund-1"})
	require.NoError(t, err)
	r2, err := sb.RefundPayment(ctx, RefundRequest{PaymentIntentID: first.ID, IdempotencyKey: "refund-1"})
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID)

	intents, refunds := sb.Calls()
	assert.Equal(t, 2, intents)
	assert.Equal(t, 2, refunds)
}

func TestSandboxFailNext(t *testing.T) {
	ctx := context.Background()
	sb := NewSandboxProvider()
	sb.FailNext("refund", "charge already refunded")

	_, err := sb.RefundPayment(ctx, RefundRequest{PaymentIntentID: "pi_1"})
	require.Error(t, err)
	assert.Equal(t, apperr.ProviderError, apperr.KindOf(err))
	assert.Contains(t, apperr.PublicMessage(err), "charge already refunded")

	_, err = sb.RefundPayment(ctx, RefundRequest{PaymentIntentID: "pi_1"})
	assert.NoError(t, err)
}

func TestSandboxAccountReuse(t *testing.T) {
	ctx := context.Background()
	sb := NewSandboxProvider()
	truck := uuid.New()

	a, err := sb.CreateConnectedAccount(ctx, truck)
	require.NoError(t, err)
	b, err := sb.CreateConnectedAccount(ctx, truck)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
