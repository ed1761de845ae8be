package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call
// without sending a request.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrResponseTooLarge is returned when a 2xx body exceeds the read limit.
var ErrResponseTooLarge = errors.New("response too large")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("server error: %s", e.Status)
	}
	return fmt.Sprintf("server error: %s - %s", e.Status, body)
}

// isClientError reports whether err is a 4xx response. Those say nothing
// about upstream health and are not counted against the breaker.
func isClientError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusBadRequest && se.StatusCode < http.StatusInternalServerError
	}
	return false
}
