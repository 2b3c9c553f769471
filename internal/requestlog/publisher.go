package requestlog

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/config"
	"github.com/rayven122/tumiki-sub015/internal/store"
	"github.com/rayven122/tumiki-sub015/pkg/circuit"
)

// Publisher fans request log records out to analytics consumers.
type Publisher interface {
	Publish(ctx context.Context, rec *store.RequestLog) error
}

// StreamPublisher appends records to a Redis stream trimmed to roughly
// MaxLen entries. Calls go through a circuit breaker so an unreachable
// Redis costs nothing once the circuit opens.
type StreamPublisher struct {
	client  redis.Cmdable
	stream  string
	maxLen  int64
	breaker *circuit.Breaker
}

// NewStreamPublisher creates a publisher writing to cfg.Stream.
func NewStreamPublisher(client redis.Cmdable, cfg config.AnalyticsConfig, logger *zap.Logger) *StreamPublisher {
	cb := cfg.CircuitBreaker
	log := logger.With(zap.String("component", "analytics_publisher"))

	return &StreamPublisher{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		breaker: circuit.NewBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout,
			circuit.WithStateChangeHook(func(from, to circuit.State) {
				log.Warn("Analytics circuit breaker state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}),
		),
	}
}

// Publish appends rec to the stream.
func (p *StreamPublisher) Publish(ctx context.Context, rec *store.RequestLog) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: p.maxLen > 0,
			Values: map[string]interface{}{
				"id":              rec.ID,
				"organization_id": rec.OrganizationID,
				"server_id":       rec.ServerID,
				"tool":            rec.ToolName,
				"status":          strconv.Itoa(rec.HTTPStatus),
				"record":          string(payload),
			},
		}).Err()
	})
}

// State reports the breaker state.
func (p *StreamPublisher) State() circuit.State {
	return p.breaker.State()
}
