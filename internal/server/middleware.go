package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
	"github.com/rayven122/tumiki-sub015/internal/logging"
	"github.com/rayven122/tumiki-sub015/internal/requestlog"
)

const headerRequestID = "X-Request-Id"

// trackRequest starts the request's execution context and, once the handler
// returns, hands it to the request logger.
func (s *Server) trackRequest(transport string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerRequestID)
			if requestID == "" {
				requestID = logging.GenerateRequestID()
			}

			traceID := logging.GenerateTraceID()
			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				traceID = sc.TraceID().String()
			}

			ctx := logging.ContextWithTracing(r.Context(), traceID, requestID)
			ctx = customerrors.EnrichWithTool(ctx, "", transport)

			ec := requestlog.NewExecution(requestID, transport, time.Now())
			ctx = requestlog.WithExecution(ctx, ec)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set(headerRequestID, requestID)

			next.ServeHTTP(ww, r.WithContext(ctx))

			requestlog.Update(ctx, func(ec *requestlog.ExecutionContext) {
				if ec.HTTPStatus == 0 {
					ec.HTTPStatus = ww.Status()
				}

				if ec.HTTPStatus == 0 {
					ec.HTTPStatus = http.StatusOK
				}

				if ec.OutputBytes == 0 {
					ec.OutputBytes = int64(ww.BytesWritten())
				}
			})

			if s.deps.RequestLog != nil {
				s.deps.RequestLog.Complete(ctx)
			}

			snap := ec.Snapshot()

			var err error
			if snap.Error != nil {
				err = fmt.Errorf("%s: %s", snap.Error.Code, snap.Error.Message)
			}

			logging.LogRequestComplete(ctx, s.logger, snap.HTTPStatus, err)
		})
	}
}
