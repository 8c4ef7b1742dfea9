package erp

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when the endpoint URL or session credential is
// missing. Every operation checks it before doing any network I/O.
var ErrNotConfigured = errors.New("erp endpoint not configured")

// UnreachableError indicates the endpoint could not be reached at the
// transport level (DNS, dial, TLS, timeout).
type UnreachableError struct {
	URL string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("erp endpoint unreachable: %s: %v", e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// RejectedError is an application-level rejection: the endpoint answered the
// request with a non-2xx status.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("erp endpoint rejected request: status %d: %s", e.StatusCode, e.Body)
}

// MalformedResponseError indicates a success response missing expected content.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed erp response: %s", e.Reason)
}
