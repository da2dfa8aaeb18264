package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/middleware"
	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/service"
)

type SupportService interface {
	Notices(ctx context.Context, page, size int) (service.NoticePage, error)
	Notice(ctx context.Context, id uint64) (model.Notice, error)
	PublishNotice(ctx context.Context, title, content string, pinned bool) (model.Notice, error)
	Inquiries(ctx context.Context, userID uint64) ([]model.Inquiry, error)
	OpenInquiry(ctx context.Context, userID uint64, title, category, first string) (model.Inquiry, error)
	Messages(ctx context.Context, inquiryID, userID uint64, role, after string) ([]model.ChatMessage, error)
	CloseInquiry(ctx context.Context, inquiryID, userID uint64, role string) error
}

// SupportHandler serves notices and the REST side of support inquiries.
// Live messages go over the /user-chat websocket.
type SupportHandler struct {
	Support SupportService
	Logger  *zap.Logger
}

func NewSupportHandler(support SupportService, logger *zap.Logger) *SupportHandler {
	return &SupportHandler{Support: support, Logger: logger}
}

type noticeReq struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	IsPinned bool   `json:"is_pinned"`
}

type inquiryReq struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

func (h *SupportHandler) Notices(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	page, err := h.Support.Notices(ctx, queryInt(c, "page", 1), queryInt(c, "size", 10))
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, page)
}

func (h *SupportHandler) Notice(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid notice id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.Support.Notice(ctx, id)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, n)
}

// PublishNotice is admin only.
func (h *SupportHandler) PublishNotice(c echo.Context) error {
	var req noticeReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.Support.PublishNotice(ctx, req.Title, req.Content, req.IsPinned)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *SupportHandler) Inquiries(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Support.Inquiries(ctx, uid)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"inquiries": list})
}

func (h *SupportHandler) OpenInquiry(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	var req inquiryReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	inq, err := h.Support.OpenInquiry(ctx, uid, req.Title, req.Category, req.Content)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, inq)
}

// Messages handles GET /me/inquiries/:id/messages?after=<message id>.
func (h *SupportHandler) Messages(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid inquiry id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	msgs, err := h.Support.Messages(ctx, id, uid, middleware.Role(c), c.QueryParam("after"))
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"messages": msgs})
}

func (h *SupportHandler) Close(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid inquiry id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Support.CloseInquiry(ctx, id, uid, middleware.Role(c)); err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}
