package domain

import (
	"errors"
	"fmt"

	"github.com/fylle/workflow-mcp/internal/retry"
)

var (
	ErrInvalidTransition  = errors.New("invalid execution state transition")
	ErrContextUnavailable = errors.New("context unavailable")
	ErrUnknownWorkflow    = errors.New("unknown workflow type")
	ErrReplayPending      = errors.New("replay claim held by another execution")
	ErrReplayNotFound     = errors.New("replay record not found")

	// ErrDeadlineExceeded is the caller's deadline expiring during an execution.
	ErrDeadlineExceeded = retry.ErrDeadlineExceeded
)

// ValidationError is a malformed request. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ContextUnavailableError is the card store staying unreachable after
// retries. Err is the last error observed, unchanged.
type ContextUnavailableError struct {
	RequestedCount int
	Err            error
}

func (e *ContextUnavailableError) Error() string {
	return fmt.Sprintf("context unavailable for %d card(s): %v", e.RequestedCount, e.Err)
}

func (e *ContextUnavailableError) Unwrap() []error {
	return []error{ErrContextUnavailable, e.Err}
}

func IsContextUnavailable(err error) bool {
	return errors.Is(err, ErrContextUnavailable)
}

// IsDeadlineExceeded reports the caller's deadline expiring.
func IsDeadlineExceeded(err error) bool {
	return errors.Is(err, ErrDeadlineExceeded)
}
