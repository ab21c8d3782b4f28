package gamefi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// AssetReader serves asset reads through a ReadCache, falling back to the
// ledger on a miss. It is also the CacheInvalidator handed to the gateway.
type AssetReader struct {
	ledger LedgerClient
	cache  ReadCache
	logger logrus.FieldLogger

	// generation is bumped on every invalidation; a ledger read that started
	// before an invalidation must not repopulate the cache.
	mu         sync.Mutex
	generation uint64
}

// ReaderOption configures an AssetReader
type ReaderOption func(*AssetReader)

// WithReaderLogger sets the logger
func WithReaderLogger(logger logrus.FieldLogger) ReaderOption {
	return func(r *AssetReader) {
		r.logger = logger
	}
}

// NewAssetReader creates a reader. A nil cache reads straight from the ledger.
func NewAssetReader(ledger LedgerClient, cache ReadCache, opts ...ReaderOption) *AssetReader {
	r := &AssetReader{
		ledger: ledger,
		cache:  cache,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetAsset returns the asset, or an error wrapping ErrAssetNotFound
func (r *AssetReader) GetAsset(ctx context.Context, assetID uint64) (*Asset, error) {
	if r.cache != nil {
		asset, ok, err := r.cache.Get(ctx, assetID)
		if err != nil {
			r.logger.WithError(err).WithField("asset_id", assetID).Warn("read cache unavailable, using ledger")
		} else if ok {
			return asset, nil
		}
	}

	gen := r.currentGeneration()

	asset, err := r.ledger.ReadAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return nil, fmt.Errorf("asset %d: %w", assetID, ErrAssetNotFound)
		}
		return nil, fmt.Errorf("failed to read asset %d: %w", assetID, err)
	}

	if r.cache != nil && r.currentGeneration() == gen {
		r.populate(ctx, asset, gen)
	}
	return asset, nil
}

// populate caches asset outside the lock. An invalidation that lands while
// the Put is in flight is detected afterwards and the entry is dropped again.
func (r *AssetReader) populate(ctx context.Context, asset *Asset, gen uint64) {
	log := r.logger.WithField("asset_id", asset.ID)
	if err := r.cache.Put(ctx, asset); err != nil {
		log.WithError(err).Warn("failed to populate read cache")
		return
	}
	if r.currentGeneration() != gen {
		if err := r.cache.Invalidate(ctx, asset.ID); err != nil {
			log.WithError(err).Warn("failed to drop superseded cache entry")
		}
	}
}

func (r *AssetReader) currentGeneration() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// GetAssetsByOwner lists the owner's assets. Ids always come from the
// ledger; each record is resolved through the cache.
func (r *AssetReader) GetAssetsByOwner(ctx context.Context, owner string) ([]*Asset, error) {
	if verr := ValidateAddress("ownerAddress", owner); verr != nil {
		return nil, verr
	}

	ids, err := r.ledger.AssetsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets of %s: %w", owner, err)
	}

	assets := make([]*Asset, 0, len(ids))
	for _, id := range ids {
		asset, err := r.GetAsset(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAssetNotFound) {
				continue
			}
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// Invalidate drops the cached record for assetID
func (r *AssetReader) Invalidate(ctx context.Context, assetID uint64) error {
	r.mu.Lock()
	r.generation++
	r.mu.Unlock()

	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(ctx, assetID)
}

var _ CacheInvalidator = (*AssetReader)(nil)
