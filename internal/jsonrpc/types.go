// Package jsonrpc defines the JSON-RPC 2.0 envelopes exchanged with MCP clients.
package jsonrpc

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/rayven122/tumiki-sub015/internal/errors"
)

// Version is the only JSON-RPC version accepted.
const Version = "2.0"

// MCP methods served by the gateway.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// Request represents a JSON-RPC request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response represents a JSON-RPC response message.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603

	// Custom error codes.
	ErrorCodeToolNotFound       = -32001
	ErrorCodeUnauthorized       = -32002
	ErrorCodeRateLimitExceeded  = -32003
	ErrorCodeBackendUnavailable = -32004
	ErrorCodeRequestTimeout     = -32005
)

// Decode parses a single request and checks the envelope.
func Decode(data []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &Error{Code: ErrorCodeParseError, Message: "parse error"}
	}

	if req.JSONRPC != Version || req.Method == "" {
		return &req, &Error{Code: ErrorCodeInvalidRequest, Message: "invalid request"}
	}

	return &req, nil
}

// DecodeParams unmarshals the request params into v.
func (r *Request) DecodeParams(v interface{}) *Error {
	if len(r.Params) == 0 {
		return nil
	}

	if err := json.Unmarshal(r.Params, v); err != nil {
		return &Error{Code: ErrorCodeInvalidParams, Message: "invalid params: " + err.Error()}
	}

	return nil
}

// NewResponse creates a successful response.
func NewResponse(result, id interface{}) *Response {
	return &Response{
		JSONRPC: Version,
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(rpcErr *Error, id interface{}) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   rpcErr,
		ID:      id,
	}
}

// FromError converts a gateway error into a JSON-RPC error carrying the
// normalized ErrorInfo as data.
func FromError(err error) *Error {
	info := errors.ToErrorInfo(err)

	return &Error{
		Code:    codeFor(err, info),
		Message: info.Message,
		Data:    info,
	}
}

func codeFor(err error, info errors.ErrorInfo) int {
	var ge *errors.GatewayError
	if stderrors.As(err, &ge) {
		switch ge.Type {
		case errors.TypeValidation:
			return ErrorCodeInvalidParams
		case errors.TypeNotFound:
			return ErrorCodeToolNotFound
		case errors.TypeUnauthorized, errors.TypeForbidden:
			return ErrorCodeUnauthorized
		case errors.TypeRateLimit:
			return ErrorCodeRateLimitExceeded
		case errors.TypeUnavailable, errors.TypeUpstream:
			return ErrorCodeBackendUnavailable
		case errors.TypeTimeout:
			return ErrorCodeRequestTimeout
		}
	}

	switch info.HTTPStatus {
	case http.StatusGatewayTimeout:
		return ErrorCodeRequestTimeout
	case http.StatusBadGateway:
		return ErrorCodeBackendUnavailable
	default:
		return ErrorCodeInternalError
	}
}
