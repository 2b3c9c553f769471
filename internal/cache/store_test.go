package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rayven122/tumiki-sub015/internal/config"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := InitializeRedisClient(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisStore_RoundTrip(t *testing.T) {
	mr, client := setupMiniredis(t)
	store := NewRedisStore(client, "gw:")
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	assert.True(t, mr.Exists("gw:k"))

	val, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	mr.FastForward(2 * time.Minute)

	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, store.Del(ctx, "k"))
	assert.False(t, mr.Exists("gw:k"))
}

func TestRedisStore_WithCacheNegative(t *testing.T) {
	mr, client := setupMiniredis(t)
	store := NewRedisStore(client, "")
	ctx := context.Background()

	calls := 0
	opts := Options[string]{
		Key:         "server:ghost",
		TTL:         time.Minute,
		NegativeTTL: 5 * time.Second,
		Negative:    NegativeCacheEnabled,
		Fetch: func(context.Context) (string, bool, error) {
			calls++

			return "", false, nil
		},
	}

	_, found, err := WithCache(ctx, store, opts)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 5*time.Second, mr.TTL("server:ghost"))

	_, found, err = WithCache(ctx, store, opts)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, calls)
}

func TestInitializeRedisClient_Errors(t *testing.T) {
	_, err := InitializeRedisClient(context.Background(), config.RedisConfig{})
	require.Error(t, err)

	_, err = InitializeRedisClient(context.Background(), config.RedisConfig{URL: "not-a-url"})
	require.Error(t, err)
}

func TestWithCache_RedisReadAndWriteFailures(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "")

	mock.ExpectGet("server:acme").SetErr(errors.New("i/o timeout"))
	mock.ExpectSet("server:acme", `"value"`, time.Minute).SetErr(errors.New("OOM command not allowed"))

	var readErrs, writeErrs int

	v, found, err := WithCache(context.Background(), store, Options[string]{
		Key: "server:acme",
		TTL: time.Minute,
		Fetch: func(context.Context) (string, bool, error) {
			return "value", true, nil
		},
		Hooks: Hooks{
			OnReadError:  func(string, error) { readErrs++ },
			OnWriteError: func(string, error) { writeErrs++ },
		},
	})

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, readErrs)
	assert.Equal(t, 1, writeErrs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := CreateMemoryStore(zaptest.NewLogger(t), time.Hour)
	defer store.Close()

	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", time.Second))
	require.NoError(t, store.Set(ctx, "b", "2", 0))

	now = now.Add(2 * time.Second)

	_, ok, _ := store.Get(ctx, "a")
	assert.False(t, ok)

	val, ok, _ := store.Get(ctx, "b")
	assert.True(t, ok)
	assert.Equal(t, "2", val)

	assert.Equal(t, 1, store.purgeExpired())
	assert.Equal(t, 1, store.Len())
}
