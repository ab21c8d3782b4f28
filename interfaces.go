package gamefi

import (
	"context"
	"time"
)

// ============================================================================
// Ledger boundary
// ============================================================================

// LedgerClient is the adapter to the external asset ledger.
// Write errors must be *LedgerError (or classifiable by ClassifyLedgerError)
// so the gateway can tell retryable failures from final ones.
type LedgerClient interface {
	// Write submits the operation and blocks until its receipt is final
	Write(ctx context.Context, req AssetRequest) (*Receipt, error)

	// ReadAsset returns the current record, or ErrAssetNotFound
	ReadAsset(ctx context.Context, assetID uint64) (*Asset, error)

	// AssetsByOwner returns the ids owned by an address
	AssetsByOwner(ctx context.Context, owner string) ([]uint64, error)

	// Resync drops any locally cached ledger state (nonces) before a retry
	Resync(ctx context.Context) error

	// Address returns the signer address used for writes
	Address() string
}

// ============================================================================
// Idempotency
// ============================================================================

// IdempotencyStore persists PendingWrites keyed by fingerprint.
// Implementations must be safe for concurrent use. Put is last-writer-wins;
// the gateway only calls it from the single flow that owns a fingerprint,
// and ownership across processes is taken with Claim.
type IdempotencyStore interface {
	// Get returns the record for fingerprint, or nil when absent
	Get(ctx context.Context, fingerprint string) (*PendingWrite, error)

	// Claim atomically stores write unless a record for its fingerprint
	// already exists. An active record last updated before staleBefore is
	// replaced. It reports whether the caller now owns the fingerprint.
	Claim(ctx context.Context, write *PendingWrite, staleBefore time.Time) (bool, error)

	// Put inserts or replaces the record
	Put(ctx context.Context, write *PendingWrite) error

	// Has reports whether a record exists for fingerprint
	Has(ctx context.Context, fingerprint string) (bool, error)

	// Prune removes terminal records last updated before the cut-off.
	// Queued and submitted records are never removed.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// ============================================================================
// Read cache
// ============================================================================

// ReadCache is a time-bounded, non-authoritative cache of asset records.
// Get must report a miss for entries older than the cache TTL.
type ReadCache interface {
	Get(ctx context.Context, assetID uint64) (*Asset, bool, error)
	Put(ctx context.Context, asset *Asset) error
	Invalidate(ctx context.Context, assetID uint64) error
}

// CacheInvalidator is notified by the gateway after a confirmed write
type CacheInvalidator interface {
	Invalidate(ctx context.Context, assetID uint64) error
}
