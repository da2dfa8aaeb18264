package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"net/http" // HTTP status codes for responses
	"strings"  // string utilities for prefix checking and trimming

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/timeegg/timeegg-server/internal/utils" // access token parsing
)

// Context keys under which JWTAuth stores the caller's identity.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's user ID (uint64) and role into the request context.
// The provided secret must match the one used when issuing tokens. Wrap
// protected routes with it so handlers can call UserID(c) and Role(c).
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A valid header starts with "Bearer " followed by the JWT.
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return WriteError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			// ParseAccessToken only accepts HS256 and checks expiry, so an
			// expired token and a forged one look the same to the client.
			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return WriteError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			}

			c.Set(CtxUserID, claims.UserID)
			c.Set(CtxRole, claims.Role)
			return next(c)
		}
	}
}
