package httpx

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// StatusError is a non-2xx response from a remote collaborator. The status
// code travels with the error so progress events can surface it.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("remote returned %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("remote returned %s", e.Status)
}

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// ErrorFromResponse drains up to 4KB of the body into a StatusError.
// Callers must have already checked that the response is non-2xx.
func ErrorFromResponse(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

// StatusCodeOf extracts the remote status code from err, if any.
func StatusCodeOf(err error) (int, bool) {
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode(), true
	}
	return 0, false
}
