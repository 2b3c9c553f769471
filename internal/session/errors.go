package session

import (
	"net/http"

	"github.com/rayven122/tumiki-sub015/internal/errors"
)

// Error codes for session operations.
const (
	ErrCodeSessionNotFound      = "SESSION_NOT_FOUND"
	ErrCodeSessionExpired       = "SESSION_EXPIRED"
	ErrCodeSessionLimitExceeded = "SESSION_LIMIT_EXCEEDED"
	ErrCodeSessionDraining      = "SESSION_ADMISSION_CLOSED"
)

// NewSessionNotFoundError creates an error for an unknown session id.
func NewSessionNotFoundError(sessionID string) *errors.GatewayError {
	return errors.NewNotFoundError("session").
		WithComponent("session").
		WithCode(ErrCodeSessionNotFound).
		WithContext("session_id", sessionID)
}

// NewSessionExpiredError creates an error for a session that timed out or
// exceeded its error budget.
func NewSessionExpiredError(sessionID string) *errors.GatewayError {
	return errors.New(errors.TypeNotFound, "session expired").
		WithComponent("session").
		WithCode(ErrCodeSessionExpired).
		WithContext("session_id", sessionID).
		WithHTTPStatus(http.StatusNotFound)
}

// NewSessionLimitError reports that the session ceiling was reached.
func NewSessionLimitError(limit int) *errors.GatewayError {
	return errors.New(errors.TypeUnavailable, "session limit reached").
		WithComponent("session").
		WithCode(ErrCodeSessionLimitExceeded).
		WithContext("max_sessions", limit).
		WithHTTPStatus(http.StatusServiceUnavailable).
		AsRetryable()
}

// NewAdmissionClosedError reports that the gateway is shutting down.
func NewAdmissionClosedError() *errors.GatewayError {
	return errors.New(errors.TypeUnavailable, "gateway is shutting down").
		WithComponent("session").
		WithCode(ErrCodeSessionDraining).
		WithHTTPStatus(http.StatusServiceUnavailable)
}
