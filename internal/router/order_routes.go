package router

import (
	"github.com/labstack/echo/v4"

	"github.com/timeegg/timeegg-server/internal/handler"
)

// RegisterOrders registers checkout: order creation, status polling,
// cancellation and the Toss payment confirmation.
func RegisterOrders(e *echo.Echo, h *handler.OrderHandler, g Guards) {
	o := e.Group("/api/orders", g.auth())
	o.POST("", h.Create)
	o.GET("/:id", h.Get)
	o.GET("/:id/status", h.Status)
	o.POST("/:id/cancel", h.Cancel)

	e.POST("/api/payments/toss/confirm", h.Confirm, g.auth(), g.limit())
}
