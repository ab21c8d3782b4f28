package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// MemoryCache is a size-bounded LRU whose entries expire after a TTL.
// Expired entries are reported as misses even before they are evicted.
type MemoryCache struct {
	lru *expirable.LRU[uint64, gamefi.Asset]
}

// NewMemoryCache creates a cache holding up to size assets for ttl each.
// Non-positive arguments fall back to DefaultSize and DefaultTTL.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{lru: expirable.NewLRU[uint64, gamefi.Asset](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, assetID uint64) (*gamefi.Asset, bool, error) {
	asset, ok := c.lru.Get(assetID)
	if !ok {
		return nil, false, nil
	}
	return &asset, true, nil
}

func (c *MemoryCache) Put(_ context.Context, asset *gamefi.Asset) error {
	c.lru.Add(asset.ID, *asset)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, assetID uint64) error {
	c.lru.Remove(assetID)
	return nil
}

// Len returns the number of cached entries, expired ones included
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

var _ gamefi.ReadCache = (*MemoryCache)(nil)
