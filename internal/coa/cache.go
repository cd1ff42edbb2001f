package coa

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "coa:version"

// HierarchyCache keeps rendered account forests in Redis. Writes bump a
// version counter instead of deleting keys, so stale trees simply expire.
type HierarchyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewHierarchyCache instantiates the cache helper. A nil client disables
// caching without changing call sites.
func NewHierarchyCache(client *redis.Client, ttl time.Duration) *HierarchyCache {
	return &HierarchyCache{client: client, ttl: ttl}
}

func (c *HierarchyCache) enabled() bool {
	return c != nil && c.client != nil
}

func (c *HierarchyCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *HierarchyCache) key(ctx context.Context, includeInactive bool) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("coa:tree:v%d:inactive=%t", ver, includeInactive), nil
}

// Get returns a cached forest when present and fresh.
func (c *HierarchyCache) Get(ctx context.Context, includeInactive bool) ([]*Node, bool) {
	if !c.enabled() {
		return nil, false
	}
	key, err := c.key(ctx, includeInactive)
	if err != nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var forest []*Node
	if err := json.Unmarshal(payload, &forest); err != nil {
		return nil, false
	}
	return forest, true
}

// Set stores a rendered forest under the current version.
func (c *HierarchyCache) Set(ctx context.Context, includeInactive bool, forest []*Node) {
	if !c.enabled() {
		return
	}
	key, err := c.key(ctx, includeInactive)
	if err != nil {
		return
	}
	payload, err := json.Marshal(forest)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, payload, c.ttl).Err()
}

// Bump invalidates every cached tree by advancing the version counter.
func (c *HierarchyCache) Bump(ctx context.Context) {
	if !c.enabled() {
		return
	}
	_ = c.client.Incr(ctx, cacheVersionKey).Err()
}
