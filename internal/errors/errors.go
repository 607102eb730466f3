// Package errors provides a structured application error used across the
// deployment orchestrator core. It carries enough information at each
// boundary to map onto an HTTP status code without leaking internals.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for status-code mapping and safe
// messaging. It mirrors the error kinds in the orchestrator spec.
type ErrorType string

const (
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeUnknownEnvironment ErrorType = "unknown_environment"
	ErrorTypeUnknownStrategy    ErrorType = "unknown_strategy"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypeLockTimeout        ErrorType = "lock_timeout"
	ErrorTypeApprovalRejected   ErrorType = "approval_rejected"
	ErrorTypeApprovalExpired    ErrorType = "approval_expired"
	ErrorTypeNodeDeployFailed   ErrorType = "node_deploy_failed"
	ErrorTypeNodeUnhealthy      ErrorType = "node_unhealthy_after_deploy"
	ErrorTypeStrategyFailure    ErrorType = "strategy_failure"
	ErrorTypeOrphanedLease      ErrorType = "orphaned_lease"
	ErrorTypeMaxRetries         ErrorType = "max_retries_exceeded"
	ErrorTypeCancelled          ErrorType = "cancelled"
	ErrorTypeAuth               ErrorType = "auth"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeDatabase           ErrorType = "database"
	ErrorTypeNetwork            ErrorType = "network"
	ErrorTypeInternal           ErrorType = "internal"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:         http.StatusBadRequest,
	ErrorTypeUnknownEnvironment: http.StatusBadRequest,
	ErrorTypeUnknownStrategy:    http.StatusBadRequest,
	ErrorTypeNotFound:           http.StatusNotFound,
	ErrorTypeConflict:           http.StatusConflict,
	ErrorTypeLockTimeout:        http.StatusConflict,
	ErrorTypeApprovalRejected:   http.StatusUnprocessableEntity,
	ErrorTypeApprovalExpired:    http.StatusUnprocessableEntity,
	ErrorTypeNodeDeployFailed:   http.StatusInternalServerError,
	ErrorTypeNodeUnhealthy:      http.StatusInternalServerError,
	ErrorTypeStrategyFailure:    http.StatusInternalServerError,
	ErrorTypeOrphanedLease:      http.StatusInternalServerError,
	ErrorTypeMaxRetries:         http.StatusInternalServerError,
	ErrorTypeCancelled:          http.StatusConflict,
	ErrorTypeAuth:               http.StatusUnauthorized,
	ErrorTypeTimeout:            http.StatusRequestTimeout,
	ErrorTypeRateLimit:          http.StatusTooManyRequests,
	ErrorTypeDatabase:           http.StatusInternalServerError,
	ErrorTypeNetwork:            http.StatusInternalServerError,
	ErrorTypeInternal:           http.StatusInternalServerError,
}

// ErrorMessages holds the generic, client-safe text for error types whose
// real message might contain internal detail.
var ErrorMessages = struct {
	ResourceNotFound        string
	AuthenticationFailed    string
	OperationTimeout        string
	RateLimitExceeded       string
	ConcurrentModification  string
}{
	ResourceNotFound:       "the requested resource was not found",
	AuthenticationFailed:   "authentication failed",
	OperationTimeout:       "the operation timed out",
	RateLimitExceeded:      "rate limit exceeded",
	ConcurrentModification: "the resource was modified concurrently, please retry",
}

// AppError is the structured error type used at every component boundary.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

func Newf(t ErrorType, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func statusCodeFor(t ErrorType) int {
	if code, ok := statusCodes[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Predefined constructors mirroring the spec's error-kind table (§7).

func NewValidationError(message string) *AppError         { return New(ErrorTypeValidation, message) }
func NewUnknownEnvironmentError(env string) *AppError {
	return Newf(ErrorTypeUnknownEnvironment, "unknown environment: %s", env)
}
func NewUnknownStrategyError(strategy string) *AppError {
	return Newf(ErrorTypeUnknownStrategy, "unknown strategy: %s", strategy)
}
func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}
func NewAuthError(message string) *AppError { return New(ErrorTypeAuth, message) }
func NewTimeoutError(operation string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", operation)
}
func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}
func NewLockTimeoutError(resource string) *AppError {
	return Newf(ErrorTypeLockTimeout, "failed to acquire lock on %s within timeout", resource)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == t
}

// GetType returns the error's type, or ErrorTypeInternal for plain errors.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code associated with err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// SafeErrorMessage returns a message safe to show a caller: validation
// messages pass through (they describe the caller's own mistake), everything
// else is replaced with a generic message that does not leak internals.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields returns structured fields suitable for logrus.WithFields.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors with " -> ", returning nil if none are
// non-nil and returning the single error unwrapped if only one is.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		msg := nonNil[0].Error()
		for _, e := range nonNil[1:] {
			msg += " -> " + e.Error()
		}
		return fmt.Errorf("%s", msg)
	}
}
