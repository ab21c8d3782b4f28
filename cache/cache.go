// Package cache provides gamefi.ReadCache implementations for asset records.
//
// Entries expire after a fixed TTL and are dropped explicitly when the write
// gateway confirms a write touching the same asset.
package cache

import (
	"strconv"
	"time"
)

// Defaults matching the asset service's historical LRU settings
const (
	DefaultSize = 1000
	DefaultTTL  = 5 * time.Minute

	DefaultKeyPrefix = "gamefi:asset:"
)

func assetKey(prefix string, assetID uint64) string {
	return prefix + strconv.FormatUint(assetID, 10)
}
