package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxWebhookBytes = 64 << 10

type onboardingRequest struct {
	TruckID    uuid.UUID `json:"truck_id" binding:"required"`
	ReturnURL  string    `json:"return_url"`
	RefreshURL string    `json:"refresh_url"`
}

type intentRequest struct {
	OrderID uuid.UUID `json:"order_id" binding:"required"`
	TruckID uuid.UUID `json:"truck_id" binding:"required"`
	Amount  int64     `json:"amount"`
}

type refundRequest struct {
	OrderID uuid.UUID `json:"order_id" binding:"required"`
	Reason  string    `json:"reason"`
}

func (h *Handler) connectOnboarding(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req onboardingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	res, err := h.payments.CreateConnectOnboarding(c.Request.Context(), caller, req.TruckID, req.ReturnURL, req.RefreshURL)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) createPaymentIntent(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req intentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	res, err := h.payments.CreatePaymentIntent(c.Request.Context(), caller, req.OrderID, req.TruckID, req.Amount)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) refundPayment(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	res, err := h.payments.RefundOrderPayment(c.Request.Context(), caller, req.OrderID, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// stripeWebhook verifies and applies a provider notification.
// The raw body is needed for signature verification.
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		h.badRequest(c, "failed to read body", err)
		return
	}

	if err := h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
