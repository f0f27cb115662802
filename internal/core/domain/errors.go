package domain

import (
	"errors"
	"fmt"
)

// FloodWaitError is the platform's authoritative rate-limit signal.
// Seconds is the server-specified wait and must be honored verbatim.
type FloodWaitError struct {
	Seconds float64
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %gs", e.Seconds)
}

// SlowModeWaitError is the per-conversation slow-mode wait signal.
type SlowModeWaitError struct {
	Seconds float64
}

func (e *SlowModeWaitError) Error() string {
	return fmt.Sprintf("slow mode wait: retry after %gs", e.Seconds)
}

// TimeoutError marks a request that exceeded its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s timed out", e.Op)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// FetchError marks a transient failure retrieving an attachment or
// other remote resource.
type FetchError struct {
	Resource string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ProtocolError is a generic remote API error with the platform's
// error code and message.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// Permanent errors. These are never retried: the same request will
// fail the same way until something outside the fetch loop changes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrPeerNotFound = errors.New("peer not found")
)

// IsPermanent reports whether err should abort the operation instead
// of being retried with backoff.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrPeerNotFound)
}
