// Package apperror provides structured error handling for the history engine.
// All failures that abort a tracked mutation must use AppError so callers can
// branch on Code instead of parsing messages.
package apperror

import (
	"errors"
	"fmt"
)

// Error codes
const (
	// Generator and integrity faults (fatal)
	CodeEntropyUnavailable = "ENTROPY_UNAVAILABLE"
	CodeDuplicateRevision  = "DUPLICATE_REVISION"
	CodeTamperDetected     = "TAMPER_DETECTED"

	// Mutation rejections (caller-visible, abort the unit of work)
	CodeMissingActor       = "MISSING_ACTOR"
	CodeIdentityMismatch   = "IDENTITY_MISMATCH"
	CodeImmutableViolation = "IMMUTABLE_VIOLATION"
	CodeNotRegistered      = "TABLE_NOT_REGISTERED"
	CodeNoTransaction      = "NO_TRANSACTION"

	// Generic
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeDatabase   = "DATABASE_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
)

// AppError is the standard error type for the engine.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (table, operation, ids)
	Details map[string]any `json:"details,omitempty"`

	// Fatal marks integrity faults that must not be retried
	Fatal bool `json:"fatal,omitempty"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewEntropyUnavailable is returned when the secure random source cannot supply bytes.
func NewEntropyUnavailable(err error) *AppError {
	return &AppError{
		Code:    CodeEntropyUnavailable,
		Message: "secure random source unavailable",
		Fatal:   true,
		Err:     err,
	}
}

// NewMissingActor is returned when a tracked mutation runs without an acting-as identity.
func NewMissingActor(table string) *AppError {
	return &AppError{
		Code:    CodeMissingActor,
		Message: "no actor bound to the mutation context",
		Details: map[string]any{"table": table},
	}
}

// NewIdentityMismatch is returned when an update tries to change the identity field.
func NewIdentityMismatch(table, field string, oldID, newID any) *AppError {
	return &AppError{
		Code:    CodeIdentityMismatch,
		Message: fmt.Sprintf("identity field %s cannot change on update", field),
		Details: map[string]any{"table": table, "field": field, "old": oldID, "new": newID},
	}
}

// NewDuplicateRevision is an integrity fault: the history key already exists.
func NewDuplicateRevision(table string, entityID, revisionID any) *AppError {
	return &AppError{
		Code:    CodeDuplicateRevision,
		Message: "history record key already exists",
		Fatal:   true,
		Details: map[string]any{"table": table, "entity_id": entityID, "revision_id": revisionID},
	}
}

// NewImmutableViolation names the rejected operation and the partition it targeted.
func NewImmutableViolation(operation, partition string) *AppError {
	return &AppError{
		Code:    CodeImmutableViolation,
		Message: fmt.Sprintf("history is append-only: %s rejected on %s", operation, partition),
		Details: map[string]any{"operation": operation, "partition": partition},
	}
}

// NewTamperDetected is returned when a stored record no longer matches its digest.
func NewTamperDetected(table string, entityID, revisionID any) *AppError {
	return &AppError{
		Code:    CodeTamperDetected,
		Message: "history record digest mismatch",
		Fatal:   true,
		Details: map[string]any{"table": table, "entity_id": entityID, "revision_id": revisionID},
	}
}

// NewNotRegistered is returned for tables without a history partition.
func NewNotRegistered(table string) *AppError {
	return &AppError{
		Code:    CodeNotRegistered,
		Message: fmt.Sprintf("table %s is not registered for history tracking", table),
		Details: map[string]any{"table": table},
	}
}

// NewNoTransaction is returned when a hook runs outside a unit of work.
func NewNoTransaction() *AppError {
	return &AppError{
		Code:    CodeNoTransaction,
		Message: "history capture requires an active unit of work",
	}
}

// NewValidation creates a validation error
func NewValidation(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewNotFound creates a not found error
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", entity),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// NewDatabase wraps a storage driver failure.
func NewDatabase(err error) *AppError {
	return &AppError{
		Code:    CodeDatabase,
		Message: "storage operation failed",
		Err:     err,
	}
}

// NewInternal creates an internal error (hides details from callers)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsFatal reports whether err is an integrity or generator fault.
func IsFatal(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Fatal
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}
