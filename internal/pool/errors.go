package pool

import (
	"net/http"

	"github.com/rayven122/tumiki-sub015/internal/errors"
)

// Error codes for pool operations.
const (
	ErrCodePoolExhausted        = "POOL_EXHAUSTED"
	ErrCodePoolClosed           = "POOL_CLOSED"
	ErrCodeConnectFailed        = "POOL_CONNECT_FAILED"
	ErrCodeUnsupportedTransport = "POOL_UNSUPPORTED_TRANSPORT"
)

// NewPoolExhaustedError reports that a pool key is at capacity. Callers back
// off and retry; the pool never waits for a slot.
func NewPoolExhaustedError(key Key, limit int) *errors.GatewayError {
	return errors.New(errors.TypeRateLimit, "connection pool at capacity").
		WithComponent("pool").
		WithCode(ErrCodePoolExhausted).
		WithContext("server", key.ServerName).
		WithContext("instance_id", key.InstanceID).
		WithContext("max_connections", limit).
		WithHTTPStatus(http.StatusServiceUnavailable).
		AsRetryable()
}

// NewPoolClosedError reports an acquire after CleanupAll during shutdown.
func NewPoolClosedError() *errors.GatewayError {
	return errors.New(errors.TypeUnavailable, "connection pool is closed").
		WithComponent("pool").
		WithCode(ErrCodePoolClosed).
		WithHTTPStatus(http.StatusServiceUnavailable)
}

// NewConnectError wraps an upstream dial or initialize failure. Only the
// server name is attached.
func NewConnectError(err error, key Key) *errors.GatewayError {
	return errors.WrapWithType(err, errors.TypeUnavailable, "failed to connect to upstream server").
		WithComponent("pool").
		WithCode(ErrCodeConnectFailed).
		WithContext("server", key.ServerName).
		WithHTTPStatus(http.StatusBadGateway).
		AsRetryable()
}

// NewUnsupportedTransportError reports a template with an unknown transport.
func NewUnsupportedTransportError(transport string) *errors.GatewayError {
	return errors.New(errors.TypeValidation, "unsupported upstream transport: "+transport).
		WithComponent("pool").
		WithCode(ErrCodeUnsupportedTransport).
		WithHTTPStatus(http.StatusInternalServerError)
}
