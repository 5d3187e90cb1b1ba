package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrDeadlineExceeded is matched by every error returned when the caller's
// deadline expires while an operation is in progress or waiting to retry.
var ErrDeadlineExceeded = errors.New("deadline exceeded")

// DeadlineExceededError reports an operation aborted by the caller's deadline.
type DeadlineExceededError struct {
	Operation string
	Attempts  int
	LastError error
}

func (e *DeadlineExceededError) Error() string {
	if e.LastError != nil {
		return fmt.Sprintf("%s: deadline exceeded after %d attempt(s): %v", e.Operation, e.Attempts, e.LastError)
	}
	return fmt.Sprintf("%s: deadline exceeded after %d attempt(s)", e.Operation, e.Attempts)
}

func (e *DeadlineExceededError) Unwrap() []error {
	return []error{ErrDeadlineExceeded, context.DeadlineExceeded}
}

// IsDeadlineExceeded returns true when err is (or wraps) a DeadlineExceededError.
func IsDeadlineExceeded(err error) bool {
	return errors.Is(err, ErrDeadlineExceeded)
}

// StatusError is a non-2xx response from a remote service.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// NewStatusError builds a StatusError from a response, reading at most 1KiB of the body.
func NewStatusError(resp *http.Response) *StatusError {
	msg := http.StatusText(resp.StatusCode)
	if resp.Body != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if len(body) > 0 {
			msg = string(body)
		}
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so IsRetryable classifies it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Classifier decides whether an attempt's error may be retried.
type Classifier func(err error) bool

// IsRetryable reports whether err is a transient transport failure (timeouts,
// resets, refused connections), an HTTP 5xx or 429, or explicitly marked
// Transient. Caller cancellation and client errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrDeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}

	// Per-attempt timeouts; the caller's own deadline is checked by the transport.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
