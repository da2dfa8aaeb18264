package middleware // middleware provides shared request processing for handlers

import (
	"net/http" // http package defines standard HTTP status codes

	"github.com/labstack/echo/v4" // echo provides middleware chaining and context
)

// RequireRole returns a middleware function that enforces that the
// authenticated user has one of the specified roles. The roles accepted
// correspond to the values stored in the JWT's "role" claim (USER or
// ADMIN). It assumes JWTAuth already ran and stored the role under
// CtxRole.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	// Build a set of allowed roles for constant-time lookups.
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A missing role or one of the wrong type counts as not allowed.
			if !allowed[Role(c)] {
				return WriteError(c, http.StatusForbidden, "FORBIDDEN", "insufficient role")
			}
			return next(c)
		}
	}
}
