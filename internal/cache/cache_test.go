package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// countingStore wraps a MemoryStore with call counters and error injection.
type countingStore struct {
	*MemoryStore

	mu     sync.Mutex
	gets   int
	sets   int
	dels   int
	getErr error
	setErr error
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()

	mem := CreateMemoryStore(zaptest.NewLogger(t), time.Hour)
	t.Cleanup(func() { _ = mem.Close() })

	return &countingStore{MemoryStore: mem}
}

func (s *countingStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	s.gets++
	err := s.getErr
	s.mu.Unlock()

	if err != nil {
		return "", false, err
	}

	return s.MemoryStore.Get(ctx, key)
}

func (s *countingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	s.sets++
	err := s.setErr
	s.mu.Unlock()

	if err != nil {
		return err
	}

	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func (s *countingStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	s.dels++
	s.mu.Unlock()

	return s.MemoryStore.Del(ctx, key)
}

type server struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

func countingFetch(calls *int32, v server, found bool, err error) FetchFunc[server] {
	return func(context.Context) (server, bool, error) {
		atomic.AddInt32(calls, 1)

		return v, found, err
	}
}

func TestWithCache_HitAfterFetch(t *testing.T) {
	store := newCountingStore(t)
	ctx := context.Background()

	var calls int32
	opts := Options[server]{
		Key:   "server:acme",
		TTL:   time.Minute,
		Fetch: countingFetch(&calls, server{ID: "s1", Slug: "acme"}, true, nil),
	}

	v, found, err := WithCache(ctx, store, opts)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "s1", v.ID)

	v, found, err = WithCache(ctx, store, opts)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "acme", v.Slug)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWithCache_ReadErrorFallsThrough(t *testing.T) {
	store := newCountingStore(t)
	store.getErr = errors.New("connection refused")

	var calls int32
	var hookErrs []error

	v, found, err := WithCache(context.Background(), store, Options[server]{
		Key:   "server:acme",
		TTL:   time.Minute,
		Fetch: countingFetch(&calls, server{ID: "s1"}, true, nil),
		Hooks: Hooks{OnReadError: func(_ string, err error) { hookErrs = append(hookErrs, err) }},
	})

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "s1", v.ID)
	assert.Equal(t, int32(1), calls)
	require.Len(t, hookErrs, 1)
	assert.EqualError(t, hookErrs[0], "connection refused")
}

func TestWithCache_DeserializeErrorIsMiss(t *testing.T) {
	store := newCountingStore(t)
	ctx := context.Background()
	require.NoError(t, store.MemoryStore.Set(ctx, "server:acme", "{broken", time.Minute))

	var calls int32
	var decodeFailures int

	v, found, err := WithCache(ctx, store, Options[server]{
		Key:   "server:acme",
		TTL:   time.Minute,
		Fetch: countingFetch(&calls, server{ID: "s1"}, true, nil),
		Hooks: Hooks{OnDeserializeError: func(string, error) { decodeFailures++ }},
	})

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "s1", v.ID)
	assert.Equal(t, int32(1), calls)
	assert.Equal(t, 1, decodeFailures)
}

func TestWithCache_WriteErrorStillReturnsValue(t *testing.T) {
	store := newCountingStore(t)
	store.setErr = errors.New("read-only replica")

	var calls int32
	var writeFailures int

	v, found, err := WithCache(context.Background(), store, Options[server]{
		Key:   "server:acme",
		TTL:   time.Minute,
		Fetch: countingFetch(&calls, server{ID: "s1"}, true, nil),
		Hooks: Hooks{OnWriteError: func(string, error) { writeFailures++ }},
	})

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "s1", v.ID)
	assert.Equal(t, 1, writeFailures)
}

func TestWithCache_FetchErrorPropagates(t *testing.T) {
	store := newCountingStore(t)

	var calls int32
	_, found, err := WithCache(context.Background(), store, Options[server]{
		Key:   "server:acme",
		TTL:   time.Minute,
		Fetch: countingFetch(&calls, server{}, false, errors.New("db down")),
	})

	require.Error(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, store.sets)
}

func TestWithCache_NegativeEnabled(t *testing.T) {
	store := newCountingStore(t)
	ctx := context.Background()

	var calls int32
	opts := Options[server]{
		Key:         "server:missing",
		TTL:         time.Minute,
		NegativeTTL: 10 * time.Second,
		Negative:    NegativeCacheEnabled,
		Fetch:       countingFetch(&calls, server{}, false, nil),
	}

	_, found, err := WithCache(ctx, store, opts)
	require.NoError(t, err)
	assert.False(t, found)

	raw, ok, err := store.MemoryStore.Get(ctx, "server:missing")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NegativeSentinel, raw)

	_, found, err = WithCache(ctx, store, opts)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "sentinel hit must not fetch")
}

func TestWithCache_NegativeBypassDeletesSentinel(t *testing.T) {
	store := newCountingStore(t)
	ctx := context.Background()
	require.NoError(t, store.MemoryStore.Set(ctx, "membership:o1:u1", NegativeSentinel, time.Minute))

	var calls int32
	_, found, err := WithCache(ctx, store, Options[bool]{
		Key:      "membership:o1:u1",
		TTL:      time.Minute,
		Negative: NegativeCacheBypass,
		Fetch: func(context.Context) (bool, bool, error) {
			atomic.AddInt32(&calls, 1)

			return false, false, nil
		},
	})

	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, store.dels)
	assert.Equal(t, int32(1), calls)
	assert.Equal(t, 0, store.sets, "bypass mode never stores the sentinel")
}

func TestLoader_CollapsesConcurrentMisses(t *testing.T) {
	store := newCountingStore(t)
	loader := NewLoader[server](store, LoaderConfig{Name: "server", TTL: time.Minute, Mode: NegativeCacheEnabled})

	var calls int32
	release := make(chan struct{})
	fetch := func(context.Context) (server, bool, error) {
		atomic.AddInt32(&calls, 1)
		<-release

		return server{ID: "s1"}, true, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]server, n)

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			v, _, err := loader.Load(context.Background(), "server:acme", fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	for _, r := range results {
		assert.Equal(t, "s1", r.ID)
	}
}

func TestLoader_Invalidate(t *testing.T) {
	store := newCountingStore(t)
	loader := NewLoader[server](store, LoaderConfig{Name: "server", TTL: time.Minute})
	ctx := context.Background()

	var calls int32
	fetch := countingFetch(&calls, server{ID: "s1"}, true, nil)

	_, _, err := loader.Load(ctx, "server:acme", fetch)
	require.NoError(t, err)
	require.NoError(t, loader.Invalidate(ctx, "server:acme"))
	_, _, err = loader.Load(ctx, "server:acme", fetch)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
