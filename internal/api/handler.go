// Package api exposes the order, payment and kitchen board operations over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"cravvr/internal/auth"
	"cravvr/internal/kitchen"
	"cravvr/internal/models"
	"cravvr/internal/realtime"
	"cravvr/internal/service"
	"cravvr/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderOperations is the order service surface used by the handlers
type OrderOperations interface {
	CreateOrder(ctx context.Context, caller models.Principal, req *service.CreateOrderRequest) (*models.OrderView, error)
	UpdateOrderStatus(ctx context.Context, caller models.Principal, orderID uuid.UUID, to models.OrderStatus, note string) (*service.StatusUpdateResult, error)
	GetOrder(ctx context.Context, caller models.Principal, orderID uuid.UUID) (*models.OrderView, error)
	ListActiveOrders(ctx context.Context, caller models.Principal, truckID uuid.UUID) ([]models.OrderView, error)
	Board(ctx context.Context, caller models.Principal, truckID uuid.UUID) (*kitchen.Board, error)
	AuthorizeTruck(ctx context.Context, caller models.Principal, truckID uuid.UUID) error
}

// PaymentOperations is the payment service surface used by the handlers
type PaymentOperations interface {
	CreateConnectOnboarding(ctx context.Context, caller models.Principal, truckID uuid.UUID, returnURL, refreshURL string) (*service.OnboardingResult, error)
	CreatePaymentIntent(ctx context.Context, caller models.Principal, orderID, truckID uuid.UUID, amount int64) (*service.IntentResult, error)
	RefundOrderPayment(ctx context.Context, caller models.Principal, orderID uuid.UUID, reason string) (*service.RefundResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Handler
type Options struct {
	Verifier   *auth.Verifier
	Subscriber realtime.Subscriber
	// Checks are pinged by /ready, keyed by dependency name
	Checks    map[string]Pinger
	RateRPS   float64
	RateBurst int
	// Heartbeat is the SSE keep-alive interval
	Heartbeat time.Duration
}

// Handler contains HTTP handlers
type Handler struct {
	orders   OrderOperations
	payments PaymentOperations
	opts     Options
	limiter  *principalLimiter
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders OrderOperations, payments PaymentOperations, opts Options) *Handler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Handler{
		orders:   orders,
		payments: payments,
		opts:     opts,
		limiter:  newPrincipalLimiter(opts.RateRPS, opts.RateBurst),
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/stripe", h.stripeWebhook)

	v1 := router.Group("/api/v1")
	v1.Use(auth.Middleware(h.opts.Verifier))
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/status", h.updateOrderStatus)

		v1.GET("/trucks/:id/orders", h.listActiveOrders)
		v1.GET("/trucks/:id/board", h.board)
		v1.GET("/trucks/:id/orders/stream", h.streamOrders)

		pay := v1.Group("/payments")
		pay.Use(h.limiter.middleware())
		{
			pay.POST("/connect-onboarding", h.connectOnboarding)
			pay.POST("/intents", h.createPaymentIntent)
			pay.POST("/refunds", h.refundPayment)
		}
	}
}

// Close stops background work owned by the handler
func (h *Handler) Close() {
	h.limiter.stop()
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.opts.Checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
