package thread

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInThread is returned by in-computation operations called with a
	// context that does not belong to a live tracked computation.
	ErrNotInThread = errors.New("thread: not inside a tracked computation")

	// ErrUnsanctioned is returned when a resource wait is attempted after
	// unsanctioned user code ran without an intervening suspension.
	ErrUnsanctioned = errors.New("thread: resource wait called outside a sanctioned region")
)

// UserFaultError wraps the value a computation panicked with.
type UserFaultError struct {
	Thread ID
	Value  any
	Stack  string
}

// Error implements the error interface.
func (e *UserFaultError) Error() string {
	return fmt.Sprintf("thread %d: computation panicked: %v", e.Thread, e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *UserFaultError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsUserFault reports whether err is (or wraps) a UserFaultError.
func IsUserFault(err error) bool {
	var uf *UserFaultError
	return errors.As(err, &uf)
}
