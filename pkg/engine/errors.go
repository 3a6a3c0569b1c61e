package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a reconciliation failure.
type ErrorClass string

const (
	// ErrorClassUnavailable indicates the backend tool is missing or unreachable.
	// Fatal for the affected resource's actions only.
	ErrorClassUnavailable ErrorClass = "resource_unavailable"

	// ErrorClassApplyRejected indicates the backend refused a write.
	ErrorClassApplyRejected ErrorClass = "apply_rejected"

	// ErrorClassValidationFailed indicates a check-only validation rejected the
	// written resource. Triggers a snapshot restore.
	ErrorClassValidationFailed ErrorClass = "validation_failed"

	// ErrorClassConvergenceMismatch indicates a re-probe disagrees with the directive.
	ErrorClassConvergenceMismatch ErrorClass = "convergence_mismatch"

	// ErrorClassInvalidDirective indicates a structural problem in the directive set.
	// The only class that is fatal to a whole run.
	ErrorClassInvalidDirective ErrorClass = "invalid_directive"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource name that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the adapter operation being performed (probe, apply, validate...).
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if inner := e.unwrapMessage(); inner != "" {
		msg = msg + ": " + inner
	}
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)", e.Class, msg, e.Resource, e.Operation)
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Class, msg, e.Resource)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewUnavailableError creates a resource-unavailable error.
func NewUnavailableError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassUnavailable,
		Message: message,
		Err:     err,
	}
}

// NewApplyRejectedError creates an apply-rejected error.
func NewApplyRejectedError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassApplyRejected,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a validation-failed error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidationFailed,
		Message: message,
		Err:     err,
	}
}

// NewMismatchError creates a convergence-mismatch error.
func NewMismatchError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConvergenceMismatch,
		Message: message,
		Err:     err,
	}
}

// NewDirectiveError creates an invalid-directive error.
func NewDirectiveError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInvalidDirective,
		Message: message,
		Err:     err,
		Code:    ErrCodeValidation,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of a classified error, or "" for plain errors.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsUnavailable returns true if the error is classified as resource-unavailable.
func IsUnavailable(err error) bool {
	return ClassOf(err) == ErrorClassUnavailable
}

// IsApplyRejected returns true if the error is classified as apply-rejected.
func IsApplyRejected(err error) bool {
	return ClassOf(err) == ErrorClassApplyRejected
}

// IsValidationFailed returns true if the error is classified as validation-failed.
func IsValidationFailed(err error) bool {
	return ClassOf(err) == ErrorClassValidationFailed
}

// IsInvalidDirective returns true if the error is a structural directive error.
func IsInvalidDirective(err error) bool {
	return ClassOf(err) == ErrorClassInvalidDirective
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeDuplicate        = "DUPLICATE_DIRECTIVE"
	ErrCodeCommandNotFound  = "COMMAND_NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeSnapshotFailed   = "SNAPSHOT_FAILED"
	ErrCodeRestoreFailed    = "RESTORE_FAILED"
	ErrCodeReloadFailed     = "RELOAD_FAILED"
)
