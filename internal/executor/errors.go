package executor

import (
	"net/http"

	"github.com/rayven122/tumiki-sub015/internal/errors"
)

// Error codes for tool execution.
const (
	ErrCodeToolNotFound    = "TOOL_NOT_FOUND"
	ErrCodeServerMismatch  = "TOOL_SERVER_MISMATCH"
	ErrCodeCallTimeout     = "TOOL_CALL_TIMEOUT"
	ErrCodeMetadataFailure = "TOOL_METADATA_UNAVAILABLE"
)

// NewToolNotFoundError reports a tool that is unknown or not allowed on the
// resolved instance. Both cases share one code so callers cannot probe the
// allow-list.
func NewToolNotFoundError(fullName string) *errors.GatewayError {
	return errors.NewNotFoundError("tool "+fullName).
		WithComponent("executor").
		WithCode(ErrCodeToolNotFound).
		WithContext("tool_name", fullName)
}

// NewServerMismatchError reports a unified tool name addressing a server
// other than the authenticated one.
func NewServerMismatchError(fullName string) *errors.GatewayError {
	return errors.NewForbiddenError("tool belongs to a different server").
		WithComponent("executor").
		WithCode(ErrCodeServerMismatch).
		WithContext("tool_name", fullName)
}

// NewCallTimeoutError reports an upstream call that exceeded the call timeout.
func NewCallTimeoutError(err error, fullName string) *errors.GatewayError {
	return errors.NewTimeoutError("tools/call", err).
		WithComponent("executor").
		WithCode(ErrCodeCallTimeout).
		WithContext("tool_name", fullName)
}

// NewMetadataError wraps a failed metadata lookup.
func NewMetadataError(err error, operation string) *errors.GatewayError {
	return errors.WrapWithType(err, errors.TypeUnavailable, "tool metadata lookup failed").
		WithComponent("executor").
		WithCode(ErrCodeMetadataFailure).
		WithOperation(operation).
		WithHTTPStatus(http.StatusServiceUnavailable)
}
