package remote

import (
	"fmt"
	"net/http"

	"fieldline/internal/retry"
)

// Error is a failed call to the remote backend or object store. StatusCode
// is zero when the request never produced a response.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: status=%d body=%s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status=%d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the call is worth retrying: timeouts, rate
// limits and server errors are; validation and authorization errors are not.
func (e *Error) Transient() bool {
	if e.StatusCode == 0 {
		if e.Err == nil {
			return true
		}
		return retry.Classify(e.Err) == retry.Transient
	}
	return TransientStatus(e.StatusCode)
}

func TransientStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func NewStatusError(op string, status int, body string) *Error {
	return &Error{Op: op, StatusCode: status, Body: body}
}

func Wrap(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}
