// Package logging provides structured logging utilities with error context integration.
package logging

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rayven122/tumiki-sub015/internal/errors"
)

// NewLogger builds the process logger. format is "json" or "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	if format == "" {
		format = "json"
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         format,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.StacktraceKey = ""

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", "mcp-gateway")), nil
}

// WithError expands err into logger fields. GatewayErrors contribute their
// classification; high severity errors also carry the captured stack.
func WithError(err error) []zap.Field {
	if err == nil {
		return nil
	}

	fields := []zap.Field{zap.Error(err)}

	var ge *errors.GatewayError
	if !stderrors.As(err, &ge) {
		return fields
	}

	fields = append(fields,
		zap.String("error_type", string(ge.Type)),
		zap.String("error_code", ge.Code),
		zap.String("component", ge.Component),
		zap.String("operation", ge.Operation),
		zap.String("severity", string(ge.Severity)),
		zap.Bool("retryable", ge.Retryable),
		zap.Int("http_status", errors.GetHTTPStatus(ge)),
	)

	if len(ge.Context) > 0 {
		fields = append(fields, zap.Any("error_context", ge.Context))
	}

	if (ge.Severity == errors.SeverityHigh || ge.Severity == errors.SeverityCritical) && len(ge.Stack) > 0 {
		fields = append(fields, zap.Strings("stack_trace", ge.Stack))
	}

	return fields
}

var requestFields = []struct {
	key   errors.ContextKey
	field string
}{
	{errors.ContextKeyRequestID, "request_id"},
	{errors.ContextKeyTraceID, "trace_id"},
	{errors.ContextKeyUserID, "user_id"},
	{errors.ContextKeySessionID, "session_id"},
	{errors.ContextKeyOrganizationID, "organization_id"},
	{errors.ContextKeyServerID, "server_id"},
	{errors.ContextKeyTool, "tool"},
	{errors.ContextKeyTransport, "transport"},
}

// WithRequestContext returns the request identifiers present in ctx as fields.
func WithRequestContext(ctx context.Context) []zap.Field {
	var fields []zap.Field

	for _, rf := range requestFields {
		if value, ok := ctx.Value(rf.key).(string); ok && value != "" {
			fields = append(fields, zap.String(rf.field, value))
		}
	}

	return fields
}

// LogError logs an error with full context at a level derived from its severity.
func LogError(ctx context.Context, logger *zap.Logger, msg string, err error, additionalFields ...zap.Field) {
	fields := WithError(err)
	fields = append(fields, WithRequestContext(ctx)...)
	fields = append(fields, additionalFields...)

	if ce := logger.Check(levelForError(err), msg); ce != nil {
		ce.Write(fields...)
	}
}

func levelForError(err error) zapcore.Level {
	var ge *errors.GatewayError
	if !stderrors.As(err, &ge) {
		return zapcore.ErrorLevel
	}

	if ge.Severity == errors.SeverityLow {
		return zapcore.WarnLevel
	}

	return zapcore.ErrorLevel
}

// LogDebug logs debug information with context.
func LogDebug(ctx context.Context, logger *zap.Logger, msg string, additionalFields ...zap.Field) {
	fields := WithRequestContext(ctx)
	fields = append(fields, additionalFields...)
	logger.Debug(msg, fields...)
}

// EnhanceLogger creates a new logger with the request identifiers of ctx attached.
func EnhanceLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if fields := WithRequestContext(ctx); len(fields) > 0 {
		return logger.With(fields...)
	}

	return logger
}
