package router

import (
	"github.com/labstack/echo/v4"

	"github.com/timeegg/timeegg-server/internal/handler"
	"github.com/timeegg/timeegg-server/internal/middleware"
	"github.com/timeegg/timeegg-server/internal/model"
)

// RegisterSupport registers notices, inquiries and media upload. Notices
// are public to read; publishing one needs the ADMIN role.
func RegisterSupport(e *echo.Echo, h *handler.SupportHandler, m *handler.MediaHandler, g Guards) {
	e.GET("/api/notices", h.Notices)
	e.GET("/api/notices/:id", h.Notice)
	e.POST("/api/notices", h.PublishNotice, g.auth(), middleware.RequireRole(model.RoleAdmin))

	me := e.Group("/api/me/inquiries", g.auth())
	me.GET("", h.Inquiries)
	me.POST("", h.OpenInquiry)
	me.GET("/:id/messages", h.Messages)
	me.POST("/:id/close", h.Close)

	e.POST("/api/media/upload", m.Upload, g.auth(), g.limit())
}
