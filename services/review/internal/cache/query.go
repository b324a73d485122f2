// Package cache keeps computed review pages in Redis.
//
// Entries are keyed by a per-product generation number. Every write to a
// product's reviews increments the generation, so pages computed before the
// write can never be read again and simply expire.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/query"
)

const keyPrefix = "reviews:"

// QueryCache stores query.Result values in Redis. Redis failures are logged
// and reported as misses.
type QueryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewQueryCache creates a cache whose entries live for ttl.
func NewQueryCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *QueryCache {
	return &QueryCache{client: client, ttl: ttl, logger: logger}
}

func generationKey(productID string) string {
	return keyPrefix + productID + ":gen"
}

func resultKey(productID string, generation int64, p query.Params) string {
	return fmt.Sprintf("%s%s:v%d:%s:%d:%d", keyPrefix, productID, generation, p.Sort, p.Page, p.Limit)
}

// Lookup returns the cached page for productID and p, if any, together with
// the generation it was looked up under. Callers pass that generation back
// to Store.
func (c *QueryCache) Lookup(ctx context.Context, productID string, p query.Params) (*query.Result, int64, bool) {
	gen, err := c.client.Get(ctx, generationKey(productID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.warn(ctx, "read review cache generation", productID, err)
		return nil, 0, false
	}

	data, err := c.client.Get(ctx, resultKey(productID, gen, p)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false
	}
	if err != nil {
		c.warn(ctx, "read review cache entry", productID, err)
		return nil, gen, false
	}

	var res query.Result
	if err := json.Unmarshal(data, &res); err != nil {
		c.warn(ctx, "decode review cache entry", productID, err)
		return nil, gen, false
	}
	return &res, gen, true
}

// Store caches res under the generation returned by the preceding Lookup. If
// a write bumped the generation in between, the entry is unreachable.
func (c *QueryCache) Store(ctx context.Context, productID string, generation int64, p query.Params, res *query.Result) {
	data, err := json.Marshal(res)
	if err != nil {
		c.warn(ctx, "encode review cache entry", productID, err)
		return
	}
	if err := c.client.Set(ctx, resultKey(productID, generation, p), data, c.ttl).Err(); err != nil {
		c.warn(ctx, "write review cache entry", productID, err)
	}
}

// Invalidate makes every cached page of productID unreachable.
func (c *QueryCache) Invalidate(ctx context.Context, productID string) {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, generationKey(productID))
	pipe.Expire(ctx, generationKey(productID), 24*time.Hour+c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.warn(ctx, "invalidate review cache", productID, err)
	}
}

func (c *QueryCache) warn(ctx context.Context, msg, productID string, err error) {
	c.logger.WarnContext(ctx, msg,
		slog.String("product_id", productID),
		slog.String("error", err.Error()),
	)
}
