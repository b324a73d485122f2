package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/query"
)

func setup(t *testing.T) (*QueryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueryCache(client, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func sampleResult(t *testing.T) *query.Result {
	t.Helper()
	reviews := []domain.Review{
		{ID: 1, ProductID: "p1", CustomerID: "c1", Rating: 5, Customer: domain.CustomerSnapshot{Name: "Anonymous"}, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: 2, ProductID: "p1", CustomerID: "c2", Rating: 3, Customer: domain.CustomerSnapshot{Name: "Omar"}, CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	res, err := query.Run(reviews, query.DefaultParams())
	require.NoError(t, err)
	return res
}

func TestQueryCache_MissThenHit(t *testing.T) {
	c, mr := setup(t)
	ctx := context.Background()
	p := query.DefaultParams()

	_, gen, ok := c.Lookup(ctx, "p1", p)
	assert.False(t, ok)
	assert.Equal(t, int64(0), gen)

	want := sampleResult(t)
	c.Store(ctx, "p1", gen, p, want)

	assert.True(t, mr.Exists("reviews:p1:v0:newest:1:5"))
	assert.Equal(t, time.Minute, mr.TTL("reviews:p1:v0:newest:1:5"))

	got, _, ok := c.Lookup(ctx, "p1", p)
	require.True(t, ok)
	assert.Equal(t, want.TotalCount, got.TotalCount)
	require.NotNil(t, got.AverageRating)
	assert.Equal(t, 4.0, *got.AverageRating)
	assert.Equal(t, want.RatingCounts, got.RatingCounts)
	require.Len(t, got.Reviews, 2)
	assert.Equal(t, int64(2), got.Reviews[0].ID)
	assert.True(t, want.Reviews[0].CreatedAt.Equal(got.Reviews[0].CreatedAt))
}

func TestQueryCache_ParamsAreSeparateEntries(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	c.Store(ctx, "p1", 0, query.DefaultParams(), sampleResult(t))

	_, _, ok := c.Lookup(ctx, "p1", query.Params{Page: 1, Limit: 5, Sort: domain.SortLowest})
	assert.False(t, ok)
	_, _, ok = c.Lookup(ctx, "p2", query.DefaultParams())
	assert.False(t, ok)
}

func TestQueryCache_InvalidateHidesOldPages(t *testing.T) {
	c, mr := setup(t)
	ctx := context.Background()
	p := query.DefaultParams()

	c.Store(ctx, "p1", 0, p, sampleResult(t))
	c.Invalidate(ctx, "p1")

	_, gen, ok := c.Lookup(ctx, "p1", p)
	assert.False(t, ok)
	assert.Equal(t, int64(1), gen)
	mr.CheckGet(t, "reviews:p1:gen", "1")
}

func TestQueryCache_StoreRacingWriteIsUnreachable(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	p := query.DefaultParams()

	_, gen, _ := c.Lookup(ctx, "p1", p)
	c.Invalidate(ctx, "p1") // a write lands while the page is computed
	c.Store(ctx, "p1", gen, p, sampleResult(t))

	_, _, ok := c.Lookup(ctx, "p1", p)
	assert.False(t, ok)
}

func TestQueryCache_RedisDownIsMiss(t *testing.T) {
	c, mr := setup(t)
	mr.Close()
	ctx := context.Background()

	_, _, ok := c.Lookup(ctx, "p1", query.DefaultParams())
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		c.Store(ctx, "p1", 0, query.DefaultParams(), sampleResult(t))
		c.Invalidate(ctx, "p1")
	})
}

func TestQueryCache_CorruptEntryIsMiss(t *testing.T) {
	c, mr := setup(t)
	require.NoError(t, mr.Set("reviews:p1:v0:newest:1:5", "{not json"))

	_, _, ok := c.Lookup(context.Background(), "p1", query.DefaultParams())
	assert.False(t, ok)
}
