package funnel

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// ErrInvalidResponse is returned when a successful response carries no usable body.
var ErrInvalidResponse = errors.New("invalid AI response")

// HTTPError is a non-2xx response from the backend. Its message is the
// response body, or the status text when the body is empty.
type HTTPError struct {
	StatusCode int    `json:"status"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.Message
}

// Temporary reports whether retrying the same request may succeed.
func (e *HTTPError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsStatus reports whether err is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == code
}

func newHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if msg == "" {
		msg = resp.Status
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}
