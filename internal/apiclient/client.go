// Package apiclient calls the order service HTTP API on behalf of the kitchen display.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cravvr/internal/apperr"
	"cravvr/internal/kitchen"
	"cravvr/internal/models"
	"cravvr/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxErrorBody = 16 << 10
	// retryReason makes the refund endpoint return the stored refund when the payment is already refunded
	retryReason = "retry"
)

// Client is an authenticated order API client
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a client for baseURL that sends token as a bearer credential
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

type statusRequest struct {
	Status models.OrderStatus `json:"status"`
	Note   string             `json:"note,omitempty"`
}

type statusResponse struct {
	Order       *models.Order `json:"order"`
	RefundError *apperr.Error `json:"refund_error,omitempty"`
}

type refundRequest struct {
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason,omitempty"`
}

// RefundReceipt is the refund returned by the order service
type RefundReceipt struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
}

type listResponse struct {
	Orders []models.OrderView `json:"orders"`
}

// GetOrder fetches one order with its customer name
func (c *Client) GetOrder(ctx context.Context, id uuid.UUID) (*models.OrderView, error) {
	var view models.OrderView
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+id.String(), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListActiveOrders fetches the truck's non-terminal orders
func (c *Client) ListActiveOrders(ctx context.Context, truckID uuid.UUID) ([]models.OrderView, error) {
	var res listResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/trucks/"+truckID.String()+"/orders", nil, &res); err != nil {
		return nil, err
	}
	return res.Orders, nil
}

// Board fetches the server-rendered board snapshot
func (c *Client) Board(ctx context.Context, truckID uuid.UUID) (*kitchen.Board, error) {
	var b kitchen.Board
	if err := c.do(ctx, http.MethodGet, "/api/v1/trucks/"+truckID.String()+"/board", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateOrderStatus requests a status change. A refund failure after the change committed
// is returned in the StatusChange, not as an error.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, note string) (*kitchen.StatusChange, error) {
	var res statusResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders/"+orderID.String()+"/status", statusRequest{Status: status, Note: note}, &res); err != nil {
		return nil, err
	}
	if res.Order == nil {
		return nil, apperr.Wrap(fmt.Errorf("status response for order %s has no order", orderID))
	}
	if res.RefundError != nil {
		c.logger.Warn("order updated but refund failed",
			zap.String("order_id", orderID.String()),
			zap.String("kind", string(res.RefundError.Kind)),
			zap.String("error", res.RefundError.Message))
	}
	return &kitchen.StatusChange{Order: res.Order, RefundError: res.RefundError}, nil
}

// RefundOrderPayment refunds the order's succeeded payment
func (c *Client) RefundOrderPayment(ctx context.Context, orderID uuid.UUID, reason string) (*RefundReceipt, error) {
	var receipt RefundReceipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments/refunds", refundRequest{OrderID: orderID, Reason: reason}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// RetryRefund retries a failed refund; an already refunded payment counts as success
func (c *Client) RetryRefund(ctx context.Context, orderID uuid.UUID) error {
	receipt, err := c.RefundOrderPayment(ctx, orderID, retryReason)
	if err != nil {
		return err
	}
	c.logger.Info("refund retried",
		zap.String("order_id", orderID.String()),
		zap.String("refund_id", receipt.RefundID))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(fmt.Errorf("failed to decode %s %s response: %w", method, path, err))
	}
	return nil
}

// decodeError turns an {error, kind} body back into a structured error
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var ae apperr.Error
	if err := json.Unmarshal(raw, &ae); err != nil || ae.Kind == "" {
		return &apperr.Error{
			Kind:    apperr.Internal,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
			Err:     fmt.Errorf("%s", strings.TrimSpace(string(raw))),
		}
	}
	return &ae
}
