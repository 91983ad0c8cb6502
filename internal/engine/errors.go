package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/thread"
)

// RuntimeError is an error detected while managing executions.
//
// None of these stop the tick loop. They are returned to the event source
// that caused them, or recorded against the execution they concern.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Execution identifies the affected execution, if any.
	Execution string

	// Entity identifies the affected entity, if any.
	Entity string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUserFault indicates a behavior panicked.
	ErrCodeUserFault RuntimeErrorCode = "USER_FAULT"

	// ErrCodeProtocolMisuse indicates a suspension or resource wait outside
	// the sanctioned protocol.
	ErrCodeProtocolMisuse RuntimeErrorCode = "PROTOCOL_MISUSE"

	// ErrCodeDuplicateAdd indicates an entity was added twice without an
	// intervening remove.
	ErrCodeDuplicateAdd RuntimeErrorCode = "DUPLICATE_ADD"

	// ErrCodeUnknownEntity indicates a remove for an entity that was never
	// added.
	ErrCodeUnknownEntity RuntimeErrorCode = "UNKNOWN_ENTITY"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Execution != "" {
		msg += fmt.Sprintf(" (execution=%s)", e.Execution)
	}
	if e.Entity != "" {
		msg += fmt.Sprintf(" (entity=%s)", e.Entity)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsUserFault reports whether err is a behavior panic.
func IsUserFault(err error) bool {
	return hasCode(err, ErrCodeUserFault) || thread.IsUserFault(err)
}

// IsProtocolMisuse reports whether err is a protocol misuse.
func IsProtocolMisuse(err error) bool {
	return hasCode(err, ErrCodeProtocolMisuse)
}

// IsDuplicateAdd reports whether err is a double add.
func IsDuplicateAdd(err error) bool {
	return hasCode(err, ErrCodeDuplicateAdd)
}

// IsUnknownEntity reports whether err is a remove of an unknown entity.
func IsUnknownEntity(err error) bool {
	return hasCode(err, ErrCodeUnknownEntity)
}

// NewUserFaultError wraps the fault of a dead computation.
func NewUserFaultError(execution, entity string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeUserFault,
		Message:   "behavior panicked",
		Execution: execution,
		Entity:    entity,
		Err:       cause,
	}
}

// NewProtocolMisuseError describes a diagnostic reported by the registry.
func NewProtocolMisuseError(execution string, d thread.Diagnostic) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeProtocolMisuse,
		Message:   d.Message,
		Execution: execution,
		Details: map[string]string{
			"kind":      string(d.Kind),
			"traceback": d.Traceback,
		},
		Err: d.Err,
	}
}

// NewDuplicateAddError creates a RuntimeError for a double add.
func NewDuplicateAddError(binding, entity string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDuplicateAdd,
		Message: "entity added twice without remove",
		Entity:  entity,
		Details: map[string]string{"binding": binding},
	}
}

// NewUnknownEntityError creates a RuntimeError for a remove of an entity
// the binding does not track.
func NewUnknownEntityError(binding, entity string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownEntity,
		Message: "remove for entity that was never added",
		Entity:  entity,
		Details: map[string]string{"binding": binding},
	}
}
