package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// RedisCache shares asset records between gateway instances.
// Expiry is enforced by Redis through the key TTL.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisCache creates a cache on an existing client
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl, prefix: DefaultKeyPrefix}
}

// WithPrefix returns a copy of the cache using a different key prefix
func (c *RedisCache) WithPrefix(prefix string) *RedisCache {
	cp := *c
	cp.prefix = prefix
	return &cp
}

func (c *RedisCache) Get(ctx context.Context, assetID uint64) (*gamefi.Asset, bool, error) {
	data, err := c.client.Get(ctx, assetKey(c.prefix, assetID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get asset %d: %w", assetID, err)
	}

	var asset gamefi.Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, false, fmt.Errorf("decode cached asset %d: %w", assetID, err)
	}
	return &asset, true, nil
}

func (c *RedisCache) Put(ctx context.Context, asset *gamefi.Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("encode asset %d: %w", asset.ID, err)
	}
	if err := c.client.Set(ctx, assetKey(c.prefix, asset.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set asset %d: %w", asset.ID, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, assetID uint64) error {
	if err := c.client.Del(ctx, assetKey(c.prefix, assetID)).Err(); err != nil {
		return fmt.Errorf("redis del asset %d: %w", assetID, err)
	}
	return nil
}

var _ gamefi.ReadCache = (*RedisCache)(nil)
