package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/errors"
)

const (
	traceIDSize   = 16
	requestIDSize = 8
)

type startTimeKey struct{}

// GenerateTraceID generates a unique trace ID.
func GenerateTraceID() string {
	b := make([]byte, traceIDSize)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("trace_%d", time.Now().UnixNano())
	}

	return hex.EncodeToString(b)
}

// GenerateRequestID generates a unique request ID.
func GenerateRequestID() string {
	b := make([]byte, requestIDSize)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}

	return hex.EncodeToString(b)
}

// ContextWithTracing adds trace and request ids plus the request start time to ctx.
func ContextWithTracing(ctx context.Context, traceID, requestID string) context.Context {
	ctx = context.WithValue(ctx, errors.ContextKeyTraceID, traceID)
	ctx = context.WithValue(ctx, errors.ContextKeyRequestID, requestID)

	return context.WithValue(ctx, startTimeKey{}, time.Now())
}

// GetRequestID retrieves request ID from context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(errors.ContextKeyRequestID).(string)

	return id
}

// GetRequestDuration calculates request duration from context.
func GetRequestDuration(ctx context.Context) time.Duration {
	if start, ok := ctx.Value(startTimeKey{}).(time.Time); ok {
		return time.Since(start)
	}

	return 0
}

// LogRequestComplete logs request completion with duration.
func LogRequestComplete(ctx context.Context, logger *zap.Logger, statusCode int, err error) {
	fields := WithRequestContext(ctx)
	fields = append(fields,
		zap.Duration("duration", GetRequestDuration(ctx)),
		zap.Int("status_code", statusCode),
	)

	if err != nil {
		fields = append(fields, WithError(err)...)
		logger.Warn("Request failed", fields...)

		return
	}

	logger.Info("Request completed", fields...)
}
