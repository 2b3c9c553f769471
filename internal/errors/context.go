package errors

import (
	"context"
	"errors"
	"fmt"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	ContextKeyRequestID      ContextKey = "request_id"
	ContextKeyUserID         ContextKey = "user_id"
	ContextKeySessionID      ContextKey = "session_id"
	ContextKeyOrganizationID ContextKey = "organization_id"
	ContextKeyServerID       ContextKey = "server_id"
	ContextKeyTool           ContextKey = "tool"
	ContextKeyTransport      ContextKey = "transport"
	ContextKeyTraceID        ContextKey = "trace_id"
)

var contextFields = []ContextKey{
	ContextKeyRequestID,
	ContextKeyUserID,
	ContextKeySessionID,
	ContextKeyOrganizationID,
	ContextKeyServerID,
	ContextKeyTool,
	ContextKeyTransport,
	ContextKeyTraceID,
}

// FromContext copies request identifiers found in ctx onto the error.
func FromContext(ctx context.Context, err error) *GatewayError {
	if err == nil {
		return nil
	}

	var ge *GatewayError
	if !errors.As(err, &ge) {
		ge = Wrap(err, err.Error())
	}

	for _, key := range contextFields {
		if value := ctx.Value(key); value != nil {
			ge = ge.WithContext(string(key), value)
		}
	}

	return ge
}

// WrapContext wraps an error with context information.
func WrapContext(ctx context.Context, err error, message string) *GatewayError {
	if err == nil {
		return nil
	}

	return FromContext(ctx, Wrap(err, message))
}

// WrapContextf wraps an error with formatted message and context.
func WrapContextf(ctx context.Context, err error, format string, args ...interface{}) *GatewayError {
	if err == nil {
		return nil
	}

	return FromContext(ctx, Wrap(err, fmt.Sprintf(format, args...)))
}

// EnrichContext adds request identifiers to ctx so errors created further
// down the call chain can pick them up.
func EnrichContext(ctx context.Context, requestID, userID, sessionID string) context.Context {
	if requestID != "" {
		ctx = context.WithValue(ctx, ContextKeyRequestID, requestID)
	}

	if userID != "" {
		ctx = context.WithValue(ctx, ContextKeyUserID, userID)
	}

	if sessionID != "" {
		ctx = context.WithValue(ctx, ContextKeySessionID, sessionID)
	}

	return ctx
}

// EnrichWithTenant adds the organization and server ids to ctx.
func EnrichWithTenant(ctx context.Context, organizationID, serverID string) context.Context {
	if organizationID != "" {
		ctx = context.WithValue(ctx, ContextKeyOrganizationID, organizationID)
	}

	if serverID != "" {
		ctx = context.WithValue(ctx, ContextKeyServerID, serverID)
	}

	return ctx
}

// EnrichWithTool adds the qualified tool name and transport kind to ctx.
func EnrichWithTool(ctx context.Context, tool, transport string) context.Context {
	if tool != "" {
		ctx = context.WithValue(ctx, ContextKeyTool, tool)
	}

	if transport != "" {
		ctx = context.WithValue(ctx, ContextKeyTransport, transport)
	}

	return ctx
}
