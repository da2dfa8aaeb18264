// Package router defines how HTTP routes are registered for the API.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timeegg/timeegg-server/internal/handler"
	"github.com/timeegg/timeegg-server/internal/middleware"
)

// Guards bundles the middleware shared by the authenticated groups.
type Guards struct {
	JWTSecret string
	// Cache serves repeat GETs of room views; nil disables it.
	Cache *middleware.ResponseCache
	// Limit throttles abuse-prone writes; nil disables it.
	Limit echo.MiddlewareFunc
}

func (g Guards) auth() echo.MiddlewareFunc { return middleware.JWTAuth(g.JWTSecret) }

func (g Guards) limit() echo.MiddlewareFunc {
	if g.Limit == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return g.Limit
}

func (g Guards) cache() echo.MiddlewareFunc { return g.Cache.Middleware() }

// RegisterRoutes registers unauthenticated infrastructure endpoints: the
// health check, Prometheus metrics when enabled and the static media dir.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, metrics bool, mediaDir, mediaURL string) {
	e.GET("/healthz", handler.Health(db))
	if metrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
	if mediaDir != "" && mediaURL != "" {
		e.Static(mediaURL, mediaDir)
	}
}

// RegisterAuth registers sign-up, login and session routes under /api.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, g Guards) {
	pub := e.Group("/api/auth")
	pub.POST("/register", a.Register, g.limit())
	pub.POST("/login", a.Login, g.limit())
	pub.POST("/refresh", a.Refresh)
	// Logout accepts either a refresh token in the body or a bearer token,
	// so it is not behind JWTAuth.
	pub.POST("/logout", a.Logout)

	e.GET("/api/me", a.Me, g.auth())
}

// RegisterChat mounts the support chat websocket. The hub authenticates
// the token query parameter itself.
func RegisterChat(e *echo.Echo, hub http.Handler) {
	e.GET("/user-chat", echo.WrapHandler(hub))
}
