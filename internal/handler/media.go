package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/media"
	"github.com/timeegg/timeegg-server/internal/middleware"
)

// MediaHandler accepts uploads whose URLs are later referenced by room
// content and easter eggs.
type MediaHandler struct {
	Store  *media.Store
	Logger *zap.Logger
}

func NewMediaHandler(store *media.Store, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{Store: store, Logger: logger}
}

// Upload handles POST /media/upload (multipart: file, kind).
func (h *MediaHandler) Upload(c echo.Context) error {
	kind, err := media.ParseKind(c.FormValue("kind"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	if fh.Size > media.Limits[kind] {
		return middleware.WriteError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", media.ErrTooLarge.Error())
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "unreadable file")
	}
	defer f.Close()

	stored, err := h.Store.Save(kind, f)
	switch {
	case errors.Is(err, media.ErrTooLarge):
		return middleware.WriteError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error())
	case errors.Is(err, media.ErrUnsupportedType):
		return middleware.WriteError(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", err.Error())
	case err != nil:
		h.Logger.Error("store upload failed", zap.Error(err))
		return middleware.WriteError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "upload failed")
	}
	uid, _ := currentUser(c)
	h.Logger.Info("media uploaded", zap.Uint64("user_id", uid), zap.String("kind", string(kind)), zap.Int64("size", stored.Size))
	return c.JSON(http.StatusCreated, stored)
}
