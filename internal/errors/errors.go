// Package errors provides the gateway's error taxonomy: typed, coded errors
// that carry an HTTP status, a severity and a retry hint, plus helpers to
// normalize any error into the common ErrorInfo shape reported to callers.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	stackSkipFrames = 2
	maxStackDepth   = 10

	TypeValidation   ErrorType = "VALIDATION"
	TypeNotFound     ErrorType = "NOT_FOUND"
	TypeUnauthorized ErrorType = "UNAUTHORIZED"
	TypeForbidden    ErrorType = "FORBIDDEN"
	TypeInternal     ErrorType = "INTERNAL"
	TypeTimeout      ErrorType = "TIMEOUT"
	TypeCanceled     ErrorType = "CANCELED"
	TypeRateLimit    ErrorType = "RATE_LIMIT"
	TypeConflict     ErrorType = "CONFLICT"
	TypeUnavailable  ErrorType = "UNAVAILABLE"
	TypeUpstream     ErrorType = "UPSTREAM"
)

// Severity is the operational weight of an error, used to pick a log level.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// HTTPStatusClientClosedRequest is the nginx convention for a client that
// went away before the response was written.
const HTTPStatusClientClosedRequest = 499

// GatewayError is the base error type for all gateway errors.
type GatewayError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Stack      []string               `json:"stack,omitempty"`
	Severity   Severity               `json:"severity"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"http_status,omitempty"`
	Component  string                 `json:"component,omitempty"`
	Operation  string                 `json:"operation,omitempty"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	var b strings.Builder

	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		b.WriteString("] ")
	}

	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}

	if e.Code != "" {
		b.WriteString(e.Code)
	} else {
		b.WriteString(string(e.Type))
	}

	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause of the error.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so sentinel values can be compared with errors.Is.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}

	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context information to the error.
func (e *GatewayError) WithContext(key string, value interface{}) *GatewayError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}

	e.Context[key] = value

	return e
}

// WithCode sets the stable machine-readable error code.
func (e *GatewayError) WithCode(code string) *GatewayError {
	e.Code = code

	return e
}

// WithOperation sets the operation that caused the error.
func (e *GatewayError) WithOperation(operation string) *GatewayError {
	e.Operation = operation

	return e
}

// WithComponent sets the component that generated the error.
func (e *GatewayError) WithComponent(component string) *GatewayError {
	e.Component = component

	return e
}

// WithHTTPStatus sets the HTTP status code for the error.
func (e *GatewayError) WithHTTPStatus(status int) *GatewayError {
	e.HTTPStatus = status

	return e
}

// AsRetryable marks the error as retryable.
func (e *GatewayError) AsRetryable() *GatewayError {
	e.Retryable = true

	return e
}

// New creates a new GatewayError with stack trace.
func New(errType ErrorType, message string) *GatewayError {
	return &GatewayError{
		Type:      errType,
		Message:   message,
		Stack:     captureStack(stackSkipFrames),
		Severity:  severityForType(errType),
		Retryable: isRetryableType(errType),
	}
}

// Wrap wraps an existing error with additional context. A wrapped
// GatewayError keeps its classification.
func Wrap(err error, message string) *GatewayError {
	if err == nil {
		return nil
	}

	var ge *GatewayError
	if errors.As(err, &ge) {
		return &GatewayError{
			Type:       ge.Type,
			Message:    message,
			Code:       ge.Code,
			Cause:      err,
			Context:    copyContext(ge.Context),
			Stack:      captureStack(stackSkipFrames),
			Severity:   ge.Severity,
			Retryable:  ge.Retryable,
			HTTPStatus: ge.HTTPStatus,
			Component:  ge.Component,
			Operation:  ge.Operation,
		}
	}

	return &GatewayError{
		Type:     TypeInternal,
		Message:  message,
		Cause:    err,
		Stack:    captureStack(stackSkipFrames),
		Severity: SeverityMedium,
	}
}

// WrapWithType wraps an error with a specific type.
func WrapWithType(err error, errType ErrorType, message string) *GatewayError {
	if err == nil {
		return nil
	}

	return &GatewayError{
		Type:      errType,
		Message:   message,
		Cause:     err,
		Stack:     captureStack(stackSkipFrames),
		Severity:  severityForType(errType),
		Retryable: isRetryableType(errType),
	}
}

// Wrapf wraps an error with formatted message.
func Wrapf(err error, format string, args ...interface{}) *GatewayError {
	if err == nil {
		return nil
	}

	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsType checks if an error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Type == errType
	}

	return false
}

// HasCode reports whether any GatewayError in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var ge *GatewayError
		if !errors.As(err, &ge) {
			return false
		}

		if ge.Code == code {
			return true
		}

		err = ge.Cause
	}

	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if temp, ok := err.(interface{ Temporary() bool }); ok {
		return temp.Temporary()
	}

	return false
}

func statusForType(errType ErrorType) int {
	switch errType {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeUnauthorized:
		return http.StatusUnauthorized
	case TypeForbidden:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeRateLimit:
		return http.StatusTooManyRequests
	case TypeTimeout:
		return http.StatusGatewayTimeout
	case TypeUnavailable:
		return http.StatusServiceUnavailable
	case TypeUpstream:
		return http.StatusBadGateway
	case TypeCanceled:
		return HTTPStatusClientClosedRequest
	case TypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// GetHTTPStatus returns the appropriate HTTP status code for an error.
func GetHTTPStatus(err error) int {
	var ge *GatewayError
	if !errors.As(err, &ge) {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}

		if errors.Is(err, context.Canceled) {
			return HTTPStatusClientClosedRequest
		}

		return http.StatusInternalServerError
	}

	if ge.HTTPStatus > 0 {
		return ge.HTTPStatus
	}

	return statusForType(ge.Type)
}

func captureStack(skip int) []string {
	var stack []string

	for i := skip; i < skip+maxStackDepth; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		if fn := runtime.FuncForPC(pc); fn != nil {
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}

	return stack
}

func copyContext(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}

	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}

func severityForType(errType ErrorType) Severity {
	switch errType {
	case TypeInternal:
		return SeverityHigh
	case TypeUnauthorized, TypeForbidden, TypeTimeout, TypeUnavailable, TypeUpstream:
		return SeverityMedium
	case TypeValidation, TypeNotFound, TypeRateLimit, TypeCanceled, TypeConflict:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

func isRetryableType(errType ErrorType) bool {
	switch errType {
	case TypeTimeout, TypeUnavailable, TypeRateLimit:
		return true
	default:
		return false
	}
}

func NewValidationError(message string) *GatewayError {
	return New(TypeValidation, message).WithHTTPStatus(http.StatusBadRequest)
}

func NewNotFoundError(resource string) *GatewayError {
	return New(TypeNotFound, resource+" not found").WithHTTPStatus(http.StatusNotFound)
}

func NewUnauthorizedError(message string) *GatewayError {
	return New(TypeUnauthorized, message).WithHTTPStatus(http.StatusUnauthorized)
}

func NewForbiddenError(message string) *GatewayError {
	return New(TypeForbidden, message).WithHTTPStatus(http.StatusForbidden)
}

func NewInternalError(message string) *GatewayError {
	return New(TypeInternal, message).WithHTTPStatus(http.StatusInternalServerError)
}

func NewTimeoutError(operation string, cause error) *GatewayError {
	msg := "operation " + operation + " timed out"
	if cause != nil {
		return WrapWithType(cause, TypeTimeout, msg).
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithOperation(operation)
	}

	return New(TypeTimeout, msg).
		WithHTTPStatus(http.StatusGatewayTimeout).
		WithOperation(operation)
}

func NewUnavailableError(service string) *GatewayError {
	return New(TypeUnavailable, "service "+service+" is unavailable").
		WithHTTPStatus(http.StatusServiceUnavailable)
}
