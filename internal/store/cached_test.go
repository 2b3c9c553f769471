package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayven122/tumiki-sub015/internal/cache"
	"github.com/rayven122/tumiki-sub015/internal/config"
	"github.com/rayven122/tumiki-sub015/internal/store"
	"github.com/rayven122/tumiki-sub015/internal/testutil"
)

func newCachedStore(t *testing.T) (*testutil.FakeStore, *store.CachedStore) {
	t.Helper()

	fake := testutil.NewFakeStore()
	backing := cache.CreateMemoryStore(testutil.NewTestLogger(t), time.Hour)
	t.Cleanup(func() { _ = backing.Close() })

	cfg := config.CacheConfig{
		ServerTTL:     time.Minute,
		MembershipTTL: time.Minute,
		InstanceTTL:   time.Minute,
		APIKeyTTL:     time.Minute,
		NegativeTTL:   time.Minute,
	}

	return fake, store.NewCachedStore(fake, backing, cfg, testutil.NewTestLogger(t), nil)
}

func TestCachedStore_ServerLookupsAreCached(t *testing.T) {
	fake, cached := newCachedStore(t)
	fake.AddServer(&store.McpServer{ID: "srv1", Slug: "tools", OrganizationID: "org1"})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		srv, found, err := cached.GetServerBySlug(ctx, "org1", "tools")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "srv1", srv.ID)
	}

	assert.Equal(t, 1, fake.CallCount("GetServerBySlug"))
}

func TestCachedStore_MissingServerIsNegativelyCached(t *testing.T) {
	fake, cached := newCachedStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, found, err := cached.GetServerByID(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, found)
	}

	assert.Equal(t, 1, fake.CallCount("GetServerByID"))
}

func TestCachedStore_MembershipDenialNotCached(t *testing.T) {
	fake, cached := newCachedStore(t)
	ctx := context.Background()

	ok, err := cached.IsMember(ctx, "org1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	fake.AddUser(&store.User{ID: "u1"}, "org1")

	ok, err = cached.IsMember(ctx, "org1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cached.IsMember(ctx, "org1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 2, fake.CallCount("IsMember"))
}

func TestCachedStore_InvalidateServer(t *testing.T) {
	fake, cached := newCachedStore(t)
	srv := &store.McpServer{ID: "srv1", Slug: "tools", OrganizationID: "org1"}
	fake.AddServer(srv)
	ctx := context.Background()

	_, _, err := cached.GetServerByID(ctx, "srv1")
	require.NoError(t, err)
	require.NoError(t, cached.InvalidateServer(ctx, srv))
	_, _, err = cached.GetServerByID(ctx, "srv1")
	require.NoError(t, err)

	assert.Equal(t, 2, fake.CallCount("GetServerByID"))
}

func TestAPIKeyExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	key := store.APIKey{ExpiresAt: &past}
	assert.True(t, key.Expired(time.Now()))

	key.ExpiresAt = nil
	assert.False(t, key.Expired(time.Now()))
}
