package requestlog

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/config"
	"github.com/rayven122/tumiki-sub015/internal/metrics"
	"github.com/rayven122/tumiki-sub015/internal/store"
	"github.com/rayven122/tumiki-sub015/pkg/circuit"
)

const (
	defaultQueueSize      = 1024
	defaultWorkers        = 2
	defaultPublishTimeout = 5 * time.Second
)

// Logger persists completed tool calls off the request path. Records are
// queued and written by a fixed set of workers; a full queue drops the
// record rather than delay the response.
type Logger struct {
	sink      store.RequestLogSink
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Registry
	timeout   time.Duration
	workers   int
	now       func() time.Time

	mu     sync.RWMutex
	queue  chan *store.RequestLog
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// CreateRequestLogger creates a request logger. publisher may be nil when
// analytics fan-out is disabled. Call Start to run the workers.
func CreateRequestLogger(
	cfg config.AnalyticsConfig,
	sink store.RequestLogSink,
	publisher Publisher,
	logger *zap.Logger,
	reg *metrics.Registry,
) *Logger {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	return &Logger{
		sink:      sink,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "request_log")),
		metrics:   reg,
		timeout:   timeout,
		workers:   workers,
		now:       time.Now,
		queue:     make(chan *store.RequestLog, queueSize),
	}
}

// Start runs the workers.
func (l *Logger) Start() {
	l.startOnce.Do(func() {
		for i := 0; i < l.workers; i++ {
			l.wg.Add(1)

			go l.worker()
		}
	})
}

// Complete finishes the request described by the execution context in ctx.
// Tool calls made by an authenticated caller are turned into a record and
// queued for persistence; the record is returned. Other requests are
// ignored.
func (l *Logger) Complete(ctx context.Context) (*store.RequestLog, bool) {
	ec, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}

	snap := ec.Snapshot()
	duration := l.now().Sub(snap.StartTime)

	if snap.ToolName == "" || snap.Auth == nil {
		return nil, false
	}

	l.metrics.ToolCall(snap.Transport, snap.HTTPStatus, duration, snap.InputBytes, snap.OutputBytes)

	rec := buildRecord(snap, duration)
	l.enqueue(rec)

	return rec, true
}

func buildRecord(snap Snapshot, duration time.Duration) *store.RequestLog {
	rec := &store.RequestLog{
		ID:             uuid.NewString(),
		RequestID:      snap.RequestID,
		SessionID:      snap.SessionID,
		OrganizationID: snap.Auth.OrganizationID,
		UserID:         snap.Auth.UserID,
		ServerID:       snap.Auth.ServerID,
		InstanceID:     snap.InstanceID,
		ToolName:       snap.ToolName,
		Transport:      snap.Transport,
		Method:         snap.Method,
		AuthMethod:     string(snap.Auth.Method),
		HTTPStatus:     snap.HTTPStatus,
		DurationMs:     duration.Milliseconds(),
		InputBytes:     snap.InputBytes,
		OutputBytes:    snap.OutputBytes,
		CreatedAt:      snap.StartTime.UTC(),
	}

	if snap.Error != nil {
		rec.ErrorCode = snap.Error.Code
		rec.ErrorMessage = snap.Error.Message
	}

	return rec
}

func (l *Logger) enqueue(rec *store.RequestLog) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.metrics.RequestLogDrop()
		l.logger.Warn("Request log dropped after shutdown", zap.String("request_id", rec.RequestID))

		return
	}

	select {
	case l.queue <- rec:
	default:
		l.metrics.RequestLogDrop()
		l.logger.Warn("Request log queue full, dropping record",
			zap.String("request_id", rec.RequestID),
			zap.String("tool", rec.ToolName),
		)
	}
}

func (l *Logger) worker() {
	defer l.wg.Done()

	for rec := range l.queue {
		l.persist(rec)
		l.publish(rec)
	}
}

func (l *Logger) persist(rec *store.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if err := l.sink.InsertRequestLog(ctx, rec); err != nil {
		l.logger.Warn("Failed to persist request log",
			zap.String("request_id", rec.RequestID),
			zap.String("server_id", rec.ServerID),
			zap.Error(err),
		)
	}
}

func (l *Logger) publish(rec *store.RequestLog) {
	if l.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	err := l.publisher.Publish(ctx, rec)

	switch {
	case err == nil:
		l.metrics.AnalyticsPublish("ok")
	case stderrors.Is(err, circuit.ErrOpen):
		l.metrics.AnalyticsPublish("rejected")
	default:
		l.metrics.AnalyticsPublish("error")
		l.logger.Warn("Failed to publish analytics event",
			zap.String("request_id", rec.RequestID),
			zap.Error(err),
		)
	}
}

// Close stops accepting records and waits for queued ones to be written or
// for ctx to end.
func (l *Logger) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})

	// Workers that were never started leave the queue for a direct drain.
	l.startOnce.Do(func() {
		for rec := range l.queue {
			l.persist(rec)
			l.publish(rec)
		}
	})

	done := make(chan struct{})

	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.logger.Warn("Request log drain interrupted", zap.Int("pending", len(l.queue)))

		return ctx.Err()
	}
}
