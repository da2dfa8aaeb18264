package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/geo"
	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/service"
)

type CapsuleService interface {
	CreateEgg(ctx context.Context, userID uint64, in service.EggInput) (model.Capsule, error)
	Nearby(ctx context.Context, center geo.Point, radius float64) ([]model.Capsule, error)
	View(ctx context.Context, capsuleID, userID uint64, pos geo.Point) (model.Capsule, error)
	Slots(ctx context.Context, userID uint64) (model.SlotUsage, error)
	ResetSlots(ctx context.Context, userID uint64) (model.SlotUsage, error)
	MyEggs(ctx context.Context, userID uint64, capsuleType string) ([]model.Capsule, error)
}

// CapsuleHandler serves /api/capsules.
type CapsuleHandler struct {
	Capsules CapsuleService
	Logger   *zap.Logger
}

func NewCapsuleHandler(capsules CapsuleService, logger *zap.Logger) *CapsuleHandler {
	return &CapsuleHandler{Capsules: capsules, Logger: logger}
}

func (h *CapsuleHandler) Create(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	var in service.EggInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	egg, err := h.Capsules.CreateEgg(ctx, uid, in)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, egg)
}

// Nearby handles GET /capsules?lat=&lng=&radius=.
func (h *CapsuleHandler) Nearby(c echo.Context) error {
	lat, err1 := strconv.ParseFloat(c.QueryParam("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.QueryParam("lng"), 64)
	if err1 != nil || err2 != nil {
		return badRequest(c, "lat and lng are required")
	}
	radius, _ := strconv.ParseFloat(c.QueryParam("radius"), 64)
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Capsules.Nearby(ctx, geo.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"capsules": list})
}

// View handles POST /capsules/:id/view with the viewer's position.
func (h *CapsuleHandler) View(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid capsule id")
	}
	var req locationReq
	if err := c.Bind(&req); err != nil || req.Latitude == nil || req.Longitude == nil {
		return respondError(c, h.Logger, service.ErrInvalidLocation)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	egg, err := h.Capsules.View(ctx, id, uid, geo.Point{Lat: *req.Latitude, Lng: *req.Longitude})
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, egg)
}

func (h *CapsuleHandler) Slots(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	s, err := h.Capsules.Slots(ctx, uid)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *CapsuleHandler) ResetSlots(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	s, err := h.Capsules.ResetSlots(ctx, uid)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, s)
}

// MyEggs handles GET /capsules/my-eggs?type=.
func (h *CapsuleHandler) MyEggs(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Capsules.MyEggs(ctx, uid, c.QueryParam("type"))
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"capsules": list})
}
