package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates a conflict with existing data
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// ConflictCode narrows a CONFLICT error down to the state that caused it
type ConflictCode string

const (
	CodeSlotAlreadyBooked         ConflictCode = "SLOT_ALREADY_BOOKED"
	CodeLockUnavailable           ConflictCode = "LOCK_UNAVAILABLE"
	CodeIdempotencyKeyConflict    ConflictCode = "IDEMPOTENCY_KEY_CONFLICT"
	CodeCrossSpecialistReschedule ConflictCode = "CROSS_SPECIALIST_RESCHEDULE"
	CodeDuplicateWaitListEntry    ConflictCode = "DUPLICATE_WAIT_LIST_ENTRY"
	CodeSlotNotOccupied           ConflictCode = "SLOT_NOT_OCCUPIED"
	CodeAlreadyBooked             ConflictCode = "ALREADY_BOOKED"
	CodeBookingNotActive          ConflictCode = "BOOKING_NOT_ACTIVE"
	CodeSlotOverlap               ConflictCode = "SLOT_OVERLAP"
	CodeSlotBooked                ConflictCode = "SLOT_BOOKED"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Code    ConflictCode
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	prefix := string(e.Type)
	if e.Code != "" {
		prefix = fmt.Sprintf("%s(%s)", e.Type, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller should retry the same request unchanged
func (e *AppError) Retryable() bool {
	return e.Type == ErrorTypeConflict && e.Code == CodeLockUnavailable
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(code ConflictCode, message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

// NewLockUnavailableError creates a retryable conflict for a row lock that could not be taken
func NewLockUnavailableError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Code:    CodeLockUnavailable,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// As returns the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err carries an AppError of the given type
func IsType(err error, t ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == t
}

// IsCode reports whether err carries a conflict with the given code
func IsCode(err error, code ConflictCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// IsNotFound reports whether err is a NOT_FOUND error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsRetryable reports whether err is a transient conflict worth retrying
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable()
}
