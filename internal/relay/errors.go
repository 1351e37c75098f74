package relay

import (
	"errors"
	"fmt"
)

// ErrEmptyReply marks an attempt whose response decoded but held no usable
// text under any recognized field. Retried like a transport failure.
var ErrEmptyReply = errors.New("empty reply: no recognized field held text")

// StatusError is a non-2xx response from the webhook endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// DeliveryError is the only error callers of Send observe. It is returned
// after all attempts are exhausted and wraps the last underlying cause.
type DeliveryError struct {
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
