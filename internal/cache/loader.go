package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rayven122/tumiki-sub015/internal/metrics"
)

// Loader binds a store, TTLs, a negative mode and hooks for repeated lookups
// of one value type. Concurrent misses for the same key share one fetch.
type Loader[T any] struct {
	store       Store
	name        string
	ttl         time.Duration
	negativeTTL time.Duration
	mode        NegativeMode
	hooks       Hooks
	metrics     *metrics.Registry

	group singleflight.Group
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Name        string
	TTL         time.Duration
	NegativeTTL time.Duration
	Mode        NegativeMode
	Hooks       Hooks
	Metrics     *metrics.Registry
}

type loadResult[T any] struct {
	value T
	found bool
}

// NewLoader creates a Loader over store.
func NewLoader[T any](store Store, cfg LoaderConfig) *Loader[T] {
	return &Loader[T]{
		store:       store,
		name:        cfg.Name,
		ttl:         cfg.TTL,
		negativeTTL: cfg.NegativeTTL,
		mode:        cfg.Mode,
		hooks:       cfg.Hooks,
		metrics:     cfg.Metrics,
	}
}

// Load returns the value for key, consulting the cache first.
func (l *Loader[T]) Load(ctx context.Context, key string, fetch FetchFunc[T]) (T, bool, error) {
	serialize, deserialize := JSON[T]()

	res, err, _ := l.group.Do(key, func() (interface{}, error) {
		v, found, err := WithCache(ctx, l.store, Options[T]{
			Key:         key,
			TTL:         l.ttl,
			NegativeTTL: l.negativeTTL,
			Fetch:       fetch,
			Serialize:   serialize,
			Deserialize: deserialize,
			Negative:    l.mode,
			Hooks:       l.hooks,
			Name:        l.name,
			Metrics:     l.metrics,
		})
		if err != nil {
			return nil, err
		}

		return loadResult[T]{value: v, found: found}, nil
	})
	if err != nil {
		var zero T

		return zero, false, err
	}

	r := res.(loadResult[T])

	return r.value, r.found, nil
}

// Invalidate removes keys from the backing store.
func (l *Loader[T]) Invalidate(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		l.group.Forget(k)
	}

	return Invalidate(ctx, l.store, keys...)
}
