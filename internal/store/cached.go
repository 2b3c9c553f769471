package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/cache"
	"github.com/rayven122/tumiki-sub015/internal/config"
	"github.com/rayven122/tumiki-sub015/internal/metrics"
)

// CachedStore decorates a Store with read-through caching of the lookups on
// the request path. Server and API-key lookups cache misses; membership and
// organization lookups only cache positive answers so revocations and new
// grants are seen once the positive entry expires.
type CachedStore struct {
	Store

	servers    *cache.Loader[McpServer]
	instances  *cache.Loader[ServerInstance]
	apiKeys    *cache.Loader[APIKey]
	users      *cache.Loader[User]
	membership *cache.Loader[bool]
	orgs       *cache.Loader[bool]
}

// NewCachedStore wraps inner. backing holds the cached entries.
func NewCachedStore(inner Store, backing cache.Store, cfg config.CacheConfig, logger *zap.Logger, reg *metrics.Registry) *CachedStore {
	loaderCfg := func(name string, ttl time.Duration, mode cache.NegativeMode) cache.LoaderConfig {
		return cache.LoaderConfig{
			Name:        name,
			TTL:         ttl,
			NegativeTTL: cfg.NegativeTTL,
			Mode:        mode,
			Hooks:       cache.LoggingHooks(logger, reg, name),
			Metrics:     reg,
		}
	}

	return &CachedStore{
		Store:      inner,
		servers:    cache.NewLoader[McpServer](backing, loaderCfg("server", cfg.ServerTTL, cache.NegativeCacheEnabled)),
		instances:  cache.NewLoader[ServerInstance](backing, loaderCfg("instance", cfg.InstanceTTL, cache.NegativeCacheEnabled)),
		apiKeys:    cache.NewLoader[APIKey](backing, loaderCfg("api_key", cfg.APIKeyTTL, cache.NegativeCacheEnabled)),
		users:      cache.NewLoader[User](backing, loaderCfg("user", cfg.MembershipTTL, cache.NegativeCacheBypass)),
		membership: cache.NewLoader[bool](backing, loaderCfg("membership", cfg.MembershipTTL, cache.NegativeCacheBypass)),
		orgs:       cache.NewLoader[bool](backing, loaderCfg("organization", cfg.MembershipTTL, cache.NegativeCacheBypass)),
	}
}

func deref[T any](v T, found bool, err error) (*T, bool, error) {
	if err != nil || !found {
		return nil, false, err
	}

	return &v, true, nil
}

func lift[T any](fn func() (*T, bool, error)) cache.FetchFunc[T] {
	return func(context.Context) (T, bool, error) {
		var zero T

		p, found, err := fn()
		if err != nil || !found || p == nil {
			return zero, false, err
		}

		return *p, true, nil
	}
}

func liftBool(fn func() (bool, error)) cache.FetchFunc[bool] {
	return func(context.Context) (bool, bool, error) {
		ok, err := fn()

		return ok, ok, err
	}
}

// ServerIDKey is the cache key of a server looked up by id.
func ServerIDKey(id string) string { return "server:id:" + id }

// ServerSlugKey is the cache key of a server looked up by organization and slug.
func ServerSlugKey(organizationID, slug string) string {
	return "server:slug:" + organizationID + ":" + slug
}

// GetServerByID implements MetadataStore.
func (c *CachedStore) GetServerByID(ctx context.Context, id string) (*McpServer, bool, error) {
	return deref[McpServer](c.servers.Load(ctx, ServerIDKey(id), lift(func() (*McpServer, bool, error) {
		return c.Store.GetServerByID(ctx, id)
	})))
}

// GetServerBySlug implements MetadataStore.
func (c *CachedStore) GetServerBySlug(ctx context.Context, organizationID, slug string) (*McpServer, bool, error) {
	return deref[McpServer](c.servers.Load(ctx, ServerSlugKey(organizationID, slug), lift(func() (*McpServer, bool, error) {
		return c.Store.GetServerBySlug(ctx, organizationID, slug)
	})))
}

// GetInstance implements MetadataStore.
func (c *CachedStore) GetInstance(ctx context.Context, serverID, normalizedName string) (*ServerInstance, bool, error) {
	key := "instance:" + serverID + ":" + normalizedName

	return deref[ServerInstance](c.instances.Load(ctx, key, lift(func() (*ServerInstance, bool, error) {
		return c.Store.GetInstance(ctx, serverID, normalizedName)
	})))
}

// GetAPIKeyByHash implements MetadataStore.
func (c *CachedStore) GetAPIKeyByHash(ctx context.Context, hashedKey string) (*APIKey, bool, error) {
	return deref[APIKey](c.apiKeys.Load(ctx, "api_key:"+hashedKey, lift(func() (*APIKey, bool, error) {
		return c.Store.GetAPIKeyByHash(ctx, hashedKey)
	})))
}

// GetUserBySubject implements MetadataStore.
func (c *CachedStore) GetUserBySubject(ctx context.Context, subject string) (*User, bool, error) {
	return deref[User](c.users.Load(ctx, "user:sub:"+subject, lift(func() (*User, bool, error) {
		return c.Store.GetUserBySubject(ctx, subject)
	})))
}

// GetUserByEmail implements MetadataStore.
func (c *CachedStore) GetUserByEmail(ctx context.Context, email string) (*User, bool, error) {
	return deref[User](c.users.Load(ctx, "user:email:"+email, lift(func() (*User, bool, error) {
		return c.Store.GetUserByEmail(ctx, email)
	})))
}

// OrganizationExists implements MetadataStore.
func (c *CachedStore) OrganizationExists(ctx context.Context, organizationID string) (bool, error) {
	ok, _, err := c.orgs.Load(ctx, "organization:"+organizationID, liftBool(func() (bool, error) {
		return c.Store.OrganizationExists(ctx, organizationID)
	}))

	return ok, err
}

// IsMember implements MetadataStore.
func (c *CachedStore) IsMember(ctx context.Context, organizationID, userID string) (bool, error) {
	key := "membership:" + organizationID + ":" + userID

	ok, _, err := c.membership.Load(ctx, key, liftBool(func() (bool, error) {
		return c.Store.IsMember(ctx, organizationID, userID)
	}))

	return ok, err
}

// InvalidateServer drops cached entries for srv.
func (c *CachedStore) InvalidateServer(ctx context.Context, srv *McpServer) error {
	return c.servers.Invalidate(ctx, ServerIDKey(srv.ID), ServerSlugKey(srv.OrganizationID, srv.Slug))
}
