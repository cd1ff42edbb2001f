package coa

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*HierarchyCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHierarchyCache(client, time.Minute), mr
}

func TestHierarchyCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, false)
	assert.False(t, ok)

	root := account("1000", nil)
	forest := BuildForest([]Account{root, account("1100", &root.ID)})
	cache.Set(ctx, false, forest)

	got, ok := cache.Get(ctx, false)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "1000", got[0].Code)
	require.Len(t, got[0].Children, 1)
	assert.Equal(t, "1100", got[0].Children[0].Code)

	// The inactive view is keyed separately.
	_, ok = cache.Get(ctx, true)
	assert.False(t, ok)
}

func TestHierarchyCacheBumpInvalidates(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, false, BuildForest([]Account{account("1000", nil)}))
	_, ok := cache.Get(ctx, false)
	require.True(t, ok)

	cache.Bump(ctx)
	_, ok = cache.Get(ctx, false)
	assert.False(t, ok)
}

func TestHierarchyCacheNilClient(t *testing.T) {
	var cache *HierarchyCache
	ctx := context.Background()

	// All operations are no-ops without a backing client.
	cache.Bump(ctx)
	cache.Set(ctx, false, nil)
	_, ok := cache.Get(ctx, false)
	assert.False(t, ok)

	disabled := NewHierarchyCache(nil, time.Minute)
	disabled.Bump(ctx)
	_, ok = disabled.Get(ctx, false)
	assert.False(t, ok)
}
