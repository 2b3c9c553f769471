package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/config"
	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
)

const (
	redisConnectTimeout  = 5 * time.Second
	defaultMemoryCleanup = time.Minute
	componentName        = "cache"
)

// Store is the key/value backend a cache reads from and writes to.
type Store interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisStore implements Store on top of Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. Every key is prefixed with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// InitializeRedisClient creates a Redis client from configuration and checks
// connectivity.
func InitializeRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, customerrors.New(customerrors.TypeValidation, "redis URL is required").
			WithComponent(componentName)
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, customerrors.Wrap(err, "failed to parse Redis URL").
			WithComponent(componentName)
	}

	if cfg.Password != "" {
		opt.Password = cfg.Password
	}

	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}

	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, customerrors.Wrap(err, "failed to connect to Redis").
			WithComponent(componentName).
			WithOperation("redis_connect")
	}

	return client, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	return val, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

// Del implements Store.
func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	logger  *zap.Logger
	now     func() time.Time

	cleanupStop    chan struct{}
	cleanupStopped chan struct{}
	closeOnce      sync.Once
}

// CreateMemoryStore creates an in-memory store and starts its expiry sweep.
func CreateMemoryStore(logger *zap.Logger, cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultMemoryCleanup
	}

	s := &MemoryStore{
		entries:        make(map[string]memoryEntry),
		logger:         logger,
		now:            time.Now,
		cleanupStop:    make(chan struct{}),
		cleanupStopped: make(chan struct{}),
	}

	go s.cleanupLoop(cleanupInterval)

	return s
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	defer close(s.cleanupStopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.purgeExpired(); n > 0 {
				s.logger.Debug("Purged expired cache entries", zap.Int("count", n))
			}
		case <-s.cleanupStop:
			return
		}
	}
}

func (s *MemoryStore) purgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0

	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.entries, k)

			purged++
		}
	}

	return purged
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return "", false, nil
	}

	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		return "", false, nil
	}

	return e.value, true, nil
}

// Set implements Store. A non-positive ttl stores the value without expiry.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()

	return nil
}

// Del implements Store.
func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	return nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Close stops the expiry sweep.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)
		<-s.cleanupStopped
	})

	return nil
}
