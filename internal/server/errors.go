package server

import (
	"net/http"

	"github.com/rayven122/tumiki-sub015/internal/errors"
)

// Error codes for the HTTP surface.
const (
	ErrCodeSessionIDRequired = "SESSION_ID_REQUIRED"
	ErrCodeSessionMismatch   = "SESSION_CREDENTIAL_MISMATCH"
	ErrCodeAPIKeyRequired    = "API_KEY_REQUIRED"
	ErrCodeStreamingRequired = "STREAMING_UNSUPPORTED"
	ErrCodeStreamBusy        = "SSE_STREAM_BUSY"
	ErrCodeInvalidBody       = "INVALID_REQUEST_BODY"
)

// NewSessionIDRequiredError is returned when a request lacks its session id.
func NewSessionIDRequiredError(where string) *errors.GatewayError {
	return errors.New(errors.TypeValidation, "session id is required").
		WithComponent("server").
		WithCode(ErrCodeSessionIDRequired).
		WithContext("location", where).
		WithHTTPStatus(http.StatusBadRequest)
}

// NewSessionMismatchError is returned when a session is used with a
// credential other than the one that opened it. It is reported as an
// unknown session so ids cannot be probed across credentials.
func NewSessionMismatchError(sessionID string) *errors.GatewayError {
	return errors.NewNotFoundError("session").
		WithComponent("server").
		WithCode(ErrCodeSessionMismatch).
		WithContext("session_id", sessionID)
}

// NewAPIKeyRequiredError is returned when an SSE stream is opened without
// an API key.
func NewAPIKeyRequiredError() *errors.GatewayError {
	return errors.New(errors.TypeUnauthorized, "SSE connections require an API key").
		WithComponent("server").
		WithCode(ErrCodeAPIKeyRequired).
		WithHTTPStatus(http.StatusUnauthorized)
}

// NewStreamingUnsupportedError is returned when the response writer cannot
// flush.
func NewStreamingUnsupportedError() *errors.GatewayError {
	return errors.NewInternalError("streaming unsupported").
		WithComponent("server").
		WithCode(ErrCodeStreamingRequired)
}

// NewStreamBusyError is returned when an SSE stream cannot accept another
// queued message.
func NewStreamBusyError(sessionID string) *errors.GatewayError {
	return errors.New(errors.TypeRateLimit, "SSE stream is not draining").
		WithComponent("server").
		WithCode(ErrCodeStreamBusy).
		WithContext("session_id", sessionID).
		WithHTTPStatus(http.StatusServiceUnavailable).
		AsRetryable()
}

// NewInvalidBodyError wraps a failure to read the request body.
func NewInvalidBodyError(err error) *errors.GatewayError {
	return errors.WrapWithType(err, errors.TypeValidation, "invalid request body").
		WithComponent("server").
		WithCode(ErrCodeInvalidBody).
		WithHTTPStatus(http.StatusBadRequest)
}
