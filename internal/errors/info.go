package errors

import (
	"context"
	"errors"
	"net/http"
)

// Codes shared across components. Component-specific codes live next to
// the component's error constructors.
const (
	CodeInternal         = "INTERNAL_ERROR"
	CodeTimeout          = "REQUEST_TIMEOUT"
	CodeCanceled         = "REQUEST_CANCELED"
	CodeUpstreamFailure  = "UPSTREAM_ERROR"
	CodeUpstreamToolFail = "UPSTREAM_TOOL_ERROR"
)

// ErrorInfo is the normalized error shape reported to callers and written
// to request logs.
type ErrorInfo struct {
	Code       string `json:"code"`
	HTTPStatus int    `json:"http_status"`
	Message    string `json:"message"`
}

// ToErrorInfo normalizes any error. GatewayErrors keep their code and status;
// context errors map to timeout/canceled; anything else is treated as an
// upstream failure since that is the only place untyped errors enter.
func ToErrorInfo(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{HTTPStatus: http.StatusOK}
	}

	var ge *GatewayError
	if errors.As(err, &ge) {
		code := ge.Code
		if code == "" {
			code = string(ge.Type)
		}

		return ErrorInfo{
			Code:       code,
			HTTPStatus: GetHTTPStatus(ge),
			Message:    ge.Message,
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorInfo{Code: CodeTimeout, HTTPStatus: http.StatusGatewayTimeout, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return ErrorInfo{Code: CodeCanceled, HTTPStatus: HTTPStatusClientClosedRequest, Message: err.Error()}
	default:
		return ErrorInfo{Code: CodeUpstreamFailure, HTTPStatus: http.StatusBadGateway, Message: err.Error()}
	}
}

// NewUpstreamError wraps a failure returned by a backend tool server.
func NewUpstreamError(err error, server string) *GatewayError {
	return WrapWithType(err, TypeUpstream, "upstream call failed").
		WithCode(CodeUpstreamFailure).
		WithHTTPStatus(http.StatusBadGateway).
		WithContext("server", server)
}
