package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ExistenceCache stores product existence answers.
type ExistenceCache interface {
	// Get returns the cached answer and whether one was found.
	Get(ctx context.Context, productID string) (exists, found bool, err error)
	Set(ctx context.Context, productID string, exists bool, ttl time.Duration) error
	Delete(ctx context.Context, productID string) error
}

// CachedLookup decorates a ProductLookup with cache-aside reads. Known
// products are cached for positiveTTL and unknown ones for the shorter
// negativeTTL so a newly listed product becomes reviewable quickly. A TTL of
// zero disables caching of that kind of answer. Cache failures are logged and
// fall through to the inner lookup.
type CachedLookup struct {
	inner       ProductLookup
	cache       ExistenceCache
	positiveTTL time.Duration
	negativeTTL time.Duration
	logger      *slog.Logger
}

// NewCachedLookup wraps inner with cache.
func NewCachedLookup(inner ProductLookup, cache ExistenceCache, positiveTTL, negativeTTL time.Duration, logger *slog.Logger) *CachedLookup {
	return &CachedLookup{
		inner:       inner,
		cache:       cache,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		logger:      logger,
	}
}

// Exists returns the cached answer when there is one, otherwise asks inner
// and caches its answer. Errors from inner are not cached.
func (l *CachedLookup) Exists(ctx context.Context, productID string) (bool, error) {
	exists, found, err := l.cache.Get(ctx, productID)
	if err != nil {
		l.logger.WarnContext(ctx, "product cache read failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	} else if found {
		return exists, nil
	}

	exists, err = l.inner.Exists(ctx, productID)
	if err != nil {
		return false, err
	}

	ttl := l.positiveTTL
	if !exists {
		ttl = l.negativeTTL
	}
	// Both stores treat a zero TTL as no expiry.
	if ttl <= 0 {
		return exists, nil
	}
	if err := l.cache.Set(ctx, productID, exists, ttl); err != nil {
		l.logger.WarnContext(ctx, "product cache write failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	return exists, nil
}

// Forget drops the cached answer for productID and forwards to inner when it
// also caches.
func (l *CachedLookup) Forget(ctx context.Context, productID string) {
	if err := l.cache.Delete(ctx, productID); err != nil {
		l.logger.WarnContext(ctx, "product cache delete failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}
	if f, ok := l.inner.(Forgetter); ok {
		f.Forget(ctx, productID)
	}
}

// RedisExistenceCache keeps answers in Redis so they are shared by every
// replica.
type RedisExistenceCache struct {
	client *redis.Client
	prefix string
}

// NewRedisExistenceCache creates a cache whose keys start with prefix.
func NewRedisExistenceCache(client *redis.Client, prefix string) *RedisExistenceCache {
	return &RedisExistenceCache{client: client, prefix: prefix}
}

func (c *RedisExistenceCache) key(productID string) string {
	return c.prefix + productID
}

// Get reads the answer stored as "1" or "0".
func (c *RedisExistenceCache) Get(ctx context.Context, productID string) (bool, bool, error) {
	val, err := c.client.Get(ctx, c.key(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get product existence: %w", err)
	}
	return val == "1", true, nil
}

// Set stores the answer with ttl.
func (c *RedisExistenceCache) Set(ctx context.Context, productID string, exists bool, ttl time.Duration) error {
	val := "0"
	if exists {
		val = "1"
	}
	if err := c.client.Set(ctx, c.key(productID), val, ttl).Err(); err != nil {
		return fmt.Errorf("set product existence: %w", err)
	}
	return nil
}

// Delete removes the answer.
func (c *RedisExistenceCache) Delete(ctx context.Context, productID string) error {
	if err := c.client.Del(ctx, c.key(productID)).Err(); err != nil {
		return fmt.Errorf("delete product existence: %w", err)
	}
	return nil
}

// MemoryExistenceCache keeps answers in process. It is used when Redis is not
// configured.
type MemoryExistenceCache struct {
	cache *gocache.Cache
}

// NewMemoryExistenceCache creates an in-process cache that sweeps expired
// entries every cleanupInterval.
func NewMemoryExistenceCache(cleanupInterval time.Duration) *MemoryExistenceCache {
	return &MemoryExistenceCache{cache: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

// Get returns the cached answer.
func (c *MemoryExistenceCache) Get(_ context.Context, productID string) (bool, bool, error) {
	v, ok := c.cache.Get(productID)
	if !ok {
		return false, false, nil
	}
	exists, _ := v.(bool)
	return exists, true, nil
}

// Set stores the answer with ttl.
func (c *MemoryExistenceCache) Set(_ context.Context, productID string, exists bool, ttl time.Duration) error {
	c.cache.Set(productID, exists, ttl)
	return nil
}

// Delete removes the answer.
func (c *MemoryExistenceCache) Delete(_ context.Context, productID string) error {
	c.cache.Delete(productID)
	return nil
}
