package domain

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable is matched by failures to reach the card store.
var ErrStoreUnavailable = errors.New("card store unavailable")

// StoreError wraps a transport or protocol failure talking to the card store.
type StoreError struct {
	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("card store %s: %v", e.Operation, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// IsStoreUnavailable returns true when err is (or wraps) a StoreError.
func IsStoreUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var se *StoreError
	if errors.As(err, &se) {
		return true
	}
	return errors.Is(err, ErrStoreUnavailable)
}
