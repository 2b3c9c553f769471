package errors

import (
	"errors"

	"github.com/rayven122/tumiki-sub015/internal/metrics"
)

const unknownValue = "unknown"

// RecordError increments the error counters for err when it is a GatewayError.
func RecordError(err error, registry *metrics.Registry) {
	var ge *GatewayError
	if !errors.As(err, &ge) {
		return
	}

	code := ge.Code
	if code == "" {
		code = unknownValue
	}

	component := ge.Component
	if component == "" {
		component = unknownValue
	}

	registry.IncrementErrors(code, component, string(ge.Type), ge.Retryable)
}
