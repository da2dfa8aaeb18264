package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// CodeNetwork marks a request that never got an HTTP response.
const CodeNetwork = "NETWORK_ERROR"

// APIError is the only error type the typed endpoints return for failed
// calls. Status is 0 for network failures.
type APIError struct {
	Message string
	Status  int
	Code    string
	// Details is the decoded JSON error body, when there was one.
	Details map[string]any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Is matches another APIError by Code, or by Status when the target has
// no code.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Code == e.Code
	}
	return t.Status == e.Status
}

// AsAPIError unwraps err.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// HasCode reports whether err is an APIError carrying code.
func HasCode(err error, code string) bool {
	ae, ok := AsAPIError(err)
	return ok && ae.Code == code
}

func networkError(err error) *APIError {
	return &APIError{Message: err.Error(), Code: CodeNetwork}
}

// normalize turns an error response into an APIError. The server answers
// {statusCode, code, message}; proxies and older endpoints may send
// {message, code}, {error} or plain text.
func normalize(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var m map[string]any
	if json.Unmarshal(body, &m) == nil && m != nil {
		e.Details = m
		e.Message = str(m["message"])
		if e.Message == "" {
			e.Message = str(m["error"])
		}
		e.Code = str(m["code"])
	} else if text := strings.TrimSpace(string(body)); text != "" {
		e.Message = text
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
