package item

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced item does not exist
	ErrNotFound = errors.New("item not found")
	// ErrDuplicate indicates a create with an id that already exists.
	// Ids are generator-assigned, so hitting this means caller misuse.
	ErrDuplicate = errors.New("item already exists")
)

// ValidationError indicates user-correctable bad input. It is surfaced, not
// retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientError wraps a store failure worth retrying
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried rather than surfaced
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
