package middleware

// identity.go holds the helpers that read the caller set by JWTAuth, plus
// the uniform error body every middleware and handler writes.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// WriteError writes an ErrorBody with the given status.
func WriteError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorBody{StatusCode: status, Code: code, Message: message})
}

// UserID returns the authenticated user's ID.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(CtxUserID).(uint64)
	return id, ok && id != 0
}

// Role returns the authenticated user's role, or "".
func Role(c echo.Context) string {
	r, _ := c.Get(CtxRole).(string)
	return r
}

// identityKey names the caller for cache and rate-limit keys. It returns
// "guest" when no user is authenticated.
func identityKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "guest"
}
