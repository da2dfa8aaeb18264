package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/middleware"
	"github.com/timeegg/timeegg-server/internal/service"
)

// dbTimeout bounds the database work of one request.
const dbTimeout = 5 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), dbTimeout)
}

// respondError writes a DomainError with its own status and code. Any
// other error is logged and hidden behind a generic 500.
func respondError(c echo.Context, logger *zap.Logger, err error) error {
	if de, ok := service.AsDomain(err); ok {
		return middleware.WriteError(c, de.Status, de.Code, de.Message)
	}
	logger.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return middleware.WriteError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

func badRequest(c echo.Context, msg string) error {
	return middleware.WriteError(c, http.StatusBadRequest, "INVALID_REQUEST", msg)
}

// currentUser returns the caller set by JWTAuth. Routes using it are
// always behind that middleware, so a miss means a wiring bug.
func currentUser(c echo.Context) (uint64, bool) {
	return middleware.UserID(c)
}

func unauthorized(c echo.Context) error {
	return middleware.WriteError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
}

func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func queryInt(c echo.Context, name string, def int) int {
	if n, err := strconv.Atoi(c.QueryParam(name)); err == nil {
		return n
	}
	return def
}
