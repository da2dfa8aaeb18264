package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/service"
)

type OrderService interface {
	Create(ctx context.Context, userID uint64, in service.OrderInput) (model.Order, error)
	Get(ctx context.Context, id string, userID uint64) (model.Order, error)
	Status(ctx context.Context, id string, userID uint64) (service.OrderStatus, error)
	Cancel(ctx context.Context, id string, userID uint64) (model.Order, error)
}

type PaymentService interface {
	Confirm(ctx context.Context, userID uint64, in service.ConfirmInput) (service.ConfirmResult, error)
}

// OrderHandler serves /api/orders and the payment confirmation callback.
type OrderHandler struct {
	Orders   OrderService
	Payments PaymentService
	Logger   *zap.Logger
}

func NewOrderHandler(orders OrderService, payments PaymentService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{Orders: orders, Payments: payments, Logger: logger}
}

func orderCaller(c echo.Context) (uint64, string, error) {
	uid, ok := currentUser(c)
	if !ok {
		return 0, "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return 0, "", echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	return uid, id, nil
}

func (h *OrderHandler) Create(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	var in service.OrderInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	o, err := h.Orders.Create(ctx, uid, in)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *OrderHandler) Get(c echo.Context) error {
	uid, id, err := orderCaller(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	o, err := h.Orders.Get(ctx, id, uid)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, o)
}

// Status is polled by the client while the payment completes.
func (h *OrderHandler) Status(c echo.Context) error {
	uid, id, err := orderCaller(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	st, err := h.Orders.Status(ctx, id, uid)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *OrderHandler) Cancel(c echo.Context) error {
	uid, id, err := orderCaller(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	o, err := h.Orders.Cancel(ctx, id, uid)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, o)
}

// Confirm handles POST /payments/toss/confirm. The gateway call gets its
// own deadline inside the payment client, so the usual 5s request budget
// does not apply here.
func (h *OrderHandler) Confirm(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	var in service.ConfirmInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid body")
	}
	res, err := h.Payments.Confirm(c.Request().Context(), uid, in)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, res)
}
