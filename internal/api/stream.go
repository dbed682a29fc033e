package api

import (
	"io"
	"time"

	"cravvr/internal/apperr"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// streamOrders relays the truck's realtime order changes as server-sent events
func (h *Handler) streamOrders(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	truckID, ok := h.pathID(c)
	if !ok {
		return
	}
	if h.opts.Subscriber == nil {
		h.respondError(c, apperr.New(apperr.Internal, "realtime feed unavailable"))
		return
	}

	ctx := c.Request.Context()
	if err := h.orders.AuthorizeTruck(ctx, caller, truckID); err != nil {
		h.respondError(c, err)
		return
	}

	sub, err := h.opts.Subscriber.Subscribe(ctx, truckID)
	if err != nil {
		h.respondError(c, apperr.Wrap(err))
		return
	}
	defer sub.Close()

	h.logger.Info("order stream opened", zap.String("truck_id", truckID.String()))

	heartbeat := time.NewTicker(h.opts.Heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"truck_id": truckID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent("order", ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})

	h.logger.Info("order stream closed", zap.String("truck_id", truckID.String()))
}
