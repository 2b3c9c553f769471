package store

import (
	"context"

	"github.com/rayven122/tumiki-sub015/internal/errors"
)

// Error codes for store operations.
const (
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeStoreQuery       = "STORE_QUERY_FAILED"
)

// WrapQueryError wraps a failed lookup with the query name.
func WrapQueryError(ctx context.Context, err error, query string) *errors.GatewayError {
	return errors.WrapContextf(ctx, err, "store query %s failed", query).
		WithComponent("store").
		WithOperation(query).
		WithCode(ErrCodeStoreQuery)
}

// NewUnavailableError reports that the store could not be reached.
func NewUnavailableError(err error) *errors.GatewayError {
	return errors.WrapWithType(err, errors.TypeUnavailable, "metadata store unavailable").
		WithComponent("store").
		WithCode(ErrCodeStoreUnavailable)
}
