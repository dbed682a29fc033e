package api

import (
	"net/http"

	"cravvr/internal/models"
	"cravvr/internal/service"

	"github.com/gin-gonic/gin"
)

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
	Note   string             `json:"note"`
}

// createOrder handles checkout
func (h *Handler) createOrder(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	view, err := h.orders.CreateOrder(c.Request.Context(), caller, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	orderID, ok := h.pathID(c)
	if !ok {
		return
	}

	view, err := h.orders.GetOrder(c.Request.Context(), caller, orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// updateOrderStatus moves an order through its lifecycle.
// A failed refund after a committed rejection is reported in the body, not as an error status.
func (h *Handler) updateOrderStatus(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	orderID, ok := h.pathID(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	res, err := h.orders.UpdateOrderStatus(c.Request.Context(), caller, orderID, req.Status, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) listActiveOrders(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	truckID, ok := h.pathID(c)
	if !ok {
		return
	}

	views, err := h.orders.ListActiveOrders(c.Request.Context(), caller, truckID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if views == nil {
		views = []models.OrderView{}
	}

	c.JSON(http.StatusOK, gin.H{"orders": views})
}

func (h *Handler) board(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	truckID, ok := h.pathID(c)
	if !ok {
		return
	}

	b, err := h.orders.Board(c.Request.Context(), caller, truckID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, b)
}
