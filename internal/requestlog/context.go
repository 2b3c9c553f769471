// Package requestlog carries per-request execution details through the
// request context and turns completed tool calls into persisted request
// log records and analytics events.
package requestlog

import (
	"context"
	"sync"
	"time"

	"github.com/rayven122/tumiki-sub015/internal/auth"
	"github.com/rayven122/tumiki-sub015/internal/errors"
)

// ExecutionContext accumulates what is known about one request while it is
// handled. Handlers deeper in the call chain add to it through Update.
type ExecutionContext struct {
	mu sync.Mutex

	RequestID   string
	SessionID   string
	StartTime   time.Time
	Transport   string
	Method      string
	ToolName    string
	InstanceID  string
	InputBytes  int64
	OutputBytes int64
	HTTPStatus  int
	Error       *errors.ErrorInfo
	Auth        *auth.AuthContext
}

// NewExecution starts an execution context for a request.
func NewExecution(requestID, transport string, start time.Time) *ExecutionContext {
	return &ExecutionContext{
		RequestID: requestID,
		Transport: transport,
		StartTime: start,
	}
}

type executionKey struct{}

// WithExecution returns ctx carrying ec.
func WithExecution(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, executionKey{}, ec)
}

// FromContext returns the execution context of the request, if any.
func FromContext(ctx context.Context) (*ExecutionContext, bool) {
	ec, ok := ctx.Value(executionKey{}).(*ExecutionContext)

	return ec, ok && ec != nil
}

// Update applies fn to the execution context in ctx under its lock. It
// reports false when ctx carries none.
func Update(ctx context.Context, fn func(ec *ExecutionContext)) bool {
	ec, ok := FromContext(ctx)
	if !ok {
		return false
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	fn(ec)

	return true
}

// SetError records err in its normalized form along with its status.
func (ec *ExecutionContext) SetError(err error) {
	if err == nil {
		return
	}

	info := errors.ToErrorInfo(err)

	ec.mu.Lock()
	ec.Error = &info
	ec.HTTPStatus = info.HTTPStatus
	ec.mu.Unlock()
}

// Snapshot is an unlocked copy of an ExecutionContext.
type Snapshot struct {
	RequestID   string
	SessionID   string
	StartTime   time.Time
	Transport   string
	Method      string
	ToolName    string
	InstanceID  string
	InputBytes  int64
	OutputBytes int64
	HTTPStatus  int
	Error       *errors.ErrorInfo
	Auth        *auth.AuthContext
}

// Snapshot copies the current values.
func (ec *ExecutionContext) Snapshot() Snapshot {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	return Snapshot{
		RequestID:   ec.RequestID,
		SessionID:   ec.SessionID,
		StartTime:   ec.StartTime,
		Transport:   ec.Transport,
		Method:      ec.Method,
		ToolName:    ec.ToolName,
		InstanceID:  ec.InstanceID,
		InputBytes:  ec.InputBytes,
		OutputBytes: ec.OutputBytes,
		HTTPStatus:  ec.HTTPStatus,
		Error:       ec.Error,
		Auth:        ec.Auth,
	}
}
