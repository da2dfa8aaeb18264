package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/service"
)

// RoomService is the waiting-room API the handlers need.
type RoomService interface {
	Create(ctx context.Context, userID uint64, in service.CreateRoomInput) (model.WaitingRoom, error)
	Get(ctx context.Context, roomID, userID uint64) (model.WaitingRoom, error)
	Settings(ctx context.Context, roomID, userID uint64) (model.RoomSettings, error)
	Join(ctx context.Context, roomID, userID uint64, inviteCode string) (service.JoinResult, error)
	MyContent(ctx context.Context, roomID, userID uint64) (model.Content, error)
	SaveContent(ctx context.Context, roomID, userID uint64, in service.ContentInput, create bool) (model.Content, error)
	Submit(ctx context.Context, roomID, userID uint64, lat, lng *float64) (service.SubmitResult, error)
}

// RoomHandler serves /api/capsules/step-rooms.
type RoomHandler struct {
	Rooms  RoomService
	Logger *zap.Logger
}

func NewRoomHandler(rooms RoomService, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{Rooms: rooms, Logger: logger}
}

type createRoomReq struct {
	OrderID     string     `json:"orderId"`
	CapsuleName string     `json:"capsuleName"`
	OpenDate    *time.Time `json:"openDate"`
	Latitude    *float64   `json:"latitude"`
	Longitude   *float64   `json:"longitude"`
}

type joinReq struct {
	InviteCode string `json:"inviteCode"`
}

type contentReq struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
	Music  string   `json:"music"`
	Video  string   `json:"video"`
}

type locationReq struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// caller resolves the authenticated user and the :id room parameter.
func caller(c echo.Context) (userID, roomID uint64, err error) {
	userID, ok := currentUser(c)
	if !ok {
		return 0, 0, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	roomID, ok = pathID(c, "id")
	if !ok {
		return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid room id")
	}
	return userID, roomID, nil
}

// Create handles POST /step-rooms/create.
func (h *RoomHandler) Create(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	var req createRoomReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	in := service.CreateRoomInput{OrderID: req.OrderID, CapsuleName: req.CapsuleName, Latitude: req.Latitude, Longitude: req.Longitude}
	if req.OpenDate != nil {
		in.OpenDate = *req.OpenDate
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	room, err := h.Rooms.Create(ctx, uid, in)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, room)
}

// Get handles GET /step-rooms/:id.
func (h *RoomHandler) Get(c echo.Context) error {
	uid, rid, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	room, err := h.Rooms.Get(ctx, rid, uid)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	// The invite code is only shown to the host, who shares it.
	if room.HostUserID != uid {
		room.InviteCode = ""
	}
	return c.JSON(http.StatusOK, room)
}

// Settings handles GET /step-rooms/:id/settings.
func (h *RoomHandler) Settings(c echo.Context) error {
	uid, rid, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	s, err := h.Rooms.Settings(ctx, rid, uid)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, s)
}

// Join handles POST /step-rooms/:id/join.
func (h *RoomHandler) Join(c echo.Context) error {
	uid, rid, err := caller(c)
	if err != nil {
		return err
	}
	var req joinReq
	if err := c.Bind(&req); err != nil || req.InviteCode == "" {
		return badRequest(c, "inviteCode required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Rooms.Join(ctx, rid, uid, req.InviteCode)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, res)
}

// MyContent handles GET /step-rooms/:id/my-content.
func (h *RoomHandler) MyContent(c echo.Context) error {
	uid, rid, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	content, err := h.Rooms.MyContent(ctx, rid, uid)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, content)
}

// CreateContent handles POST /step-rooms/:id/my-content.
func (h *RoomHandler) CreateContent(c echo.Context) error { return h.saveContent(c, true) }

// UpdateContent handles PATCH /step-rooms/:id/my-content.
func (h *RoomHandler) UpdateContent(c echo.Context) error { return h.saveContent(c, false) }

func (h *RoomHandler) saveContent(c echo.Context, create bool) error {
	uid, rid, err := caller(c)
	if err != nil {
		return err
	}
	var req contentReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	saved, err := h.Rooms.SaveContent(ctx, rid, uid, service.ContentInput(req), create)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	status := http.StatusOK
	if create {
		status = http.StatusCreated
	}
	return c.JSON(status, saved)
}

// Submit handles POST /step-rooms/:id/submit.
func (h *RoomHandler) Submit(c echo.Context) error {
	uid, rid, err := caller(c)
	if err != nil {
		return err
	}
	var req locationReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Rooms.Submit(ctx, rid, uid, req.Latitude, req.Longitude)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, res)
}
