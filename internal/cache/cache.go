// Package cache implements a generic read-through cache with optional
// negative-result caching. Cache failures never fail the wrapped lookup:
// read, decode and write problems are reported through hooks and the value
// is fetched from the source instead.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/metrics"
)

// NegativeSentinel is stored in place of a value when a lookup found nothing.
const NegativeSentinel = "\x00__not_found__"

// NegativeMode selects how a stored NegativeSentinel is interpreted.
type NegativeMode int

const (
	// NegativeCacheEnabled returns "not found" on a sentinel hit without
	// fetching, and stores the sentinel after a not-found fetch.
	NegativeCacheEnabled NegativeMode = iota + 1
	// NegativeCacheBypass deletes a sentinel it encounters and fetches.
	// Not-found fetches are never stored.
	NegativeCacheBypass
)

func (m NegativeMode) String() string {
	switch m {
	case NegativeCacheEnabled:
		return "enabled"
	case NegativeCacheBypass:
		return "bypass"
	default:
		return "unknown"
	}
}

// Result labels reported to metrics.
const (
	ResultHit         = "hit"
	ResultMiss        = "miss"
	ResultNegativeHit = "negative_hit"
	ResultError       = "error"
)

// Hooks receive cache failures that were absorbed.
type Hooks struct {
	OnReadError        func(key string, err error)
	OnDeserializeError func(key string, err error)
	OnWriteError       func(key string, err error)
}

func (h Hooks) readError(key string, err error) {
	if h.OnReadError != nil {
		h.OnReadError(key, err)
	}
}

func (h Hooks) deserializeError(key string, err error) {
	if h.OnDeserializeError != nil {
		h.OnDeserializeError(key, err)
	}
}

func (h Hooks) writeError(key string, err error) {
	if h.OnWriteError != nil {
		h.OnWriteError(key, err)
	}
}

// LoggingHooks returns hooks that log at warn level and count errors.
func LoggingHooks(logger *zap.Logger, reg *metrics.Registry, name string) Hooks {
	report := func(op string) func(string, error) {
		return func(key string, err error) {
			reg.CacheOperation(name, ResultError)
			logger.Warn("Cache "+op+" failed, continuing without cache",
				zap.String("cache", name),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	return Hooks{
		OnReadError:        report("read"),
		OnDeserializeError: report("decode"),
		OnWriteError:       report("write"),
	}
}

// FetchFunc loads a value from the source of truth. found=false with a nil
// error means the value does not exist.
type FetchFunc[T any] func(ctx context.Context) (value T, found bool, err error)

// Options configures one WithCache call.
type Options[T any] struct {
	Key         string
	TTL         time.Duration
	NegativeTTL time.Duration
	Fetch       FetchFunc[T]
	Serialize   func(T) (string, error)
	Deserialize func(string) (T, error)
	Negative    NegativeMode
	Hooks       Hooks

	// Name and Metrics label cache outcomes; both optional.
	Name    string
	Metrics *metrics.Registry
}

// JSON returns a serializer pair that encodes values as JSON.
func JSON[T any]() (func(T) (string, error), func(string) (T, error)) {
	serialize := func(v T) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}

		return string(b), nil
	}

	deserialize := func(s string) (T, error) {
		var v T
		err := json.Unmarshal([]byte(s), &v)

		return v, err
	}

	return serialize, deserialize
}

// WithCache returns the cached value for opts.Key, fetching and storing it
// on a miss. The bool result reports whether the value exists. Only errors
// returned by Fetch are propagated.
func WithCache[T any](ctx context.Context, store Store, opts Options[T]) (T, bool, error) {
	var zero T

	if opts.Serialize == nil || opts.Deserialize == nil {
		opts.Serialize, opts.Deserialize = JSON[T]()
	}

	if opts.Negative == 0 {
		opts.Negative = NegativeCacheBypass
	}

	raw, ok, err := store.Get(ctx, opts.Key)

	switch {
	case err != nil:
		opts.Hooks.readError(opts.Key, err)
	case ok && raw == NegativeSentinel:
		if opts.Negative == NegativeCacheEnabled {
			opts.Metrics.CacheOperation(opts.Name, ResultNegativeHit)

			return zero, false, nil
		}

		if err := store.Del(ctx, opts.Key); err != nil {
			opts.Hooks.writeError(opts.Key, err)
		}
	case ok:
		v, err := opts.Deserialize(raw)
		if err == nil {
			opts.Metrics.CacheOperation(opts.Name, ResultHit)

			return v, true, nil
		}

		opts.Hooks.deserializeError(opts.Key, err)
	}

	opts.Metrics.CacheOperation(opts.Name, ResultMiss)

	v, found, err := opts.Fetch(ctx)
	if err != nil {
		return zero, false, err
	}

	if !found {
		if opts.Negative == NegativeCacheEnabled {
			if err := store.Set(ctx, opts.Key, NegativeSentinel, negativeTTL(opts)); err != nil {
				opts.Hooks.writeError(opts.Key, err)
			}
		}

		return zero, false, nil
	}

	encoded, err := opts.Serialize(v)
	if err != nil {
		opts.Hooks.writeError(opts.Key, err)

		return v, true, nil
	}

	if err := store.Set(ctx, opts.Key, encoded, opts.TTL); err != nil {
		opts.Hooks.writeError(opts.Key, err)
	}

	return v, true, nil
}

func negativeTTL[T any](opts Options[T]) time.Duration {
	if opts.NegativeTTL > 0 {
		return opts.NegativeTTL
	}

	return opts.TTL
}

// Invalidate deletes keys, returning the first error.
func Invalidate(ctx context.Context, store Store, keys ...string) error {
	var first error

	for _, k := range keys {
		if err := store.Del(ctx, k); err != nil && first == nil {
			first = err
		}
	}

	return first
}
