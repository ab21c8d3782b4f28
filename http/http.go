// Package http exposes the write gateway and asset reads over HTTP.
// It includes the gin server, its middleware and a typed Go client.
package http

import (
	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// ============================================================================
// Headers and Routes
// ============================================================================

const (
	HeaderIdempotencyKey  = "Idempotency-Key"
	HeaderIdempotentReply = "X-Idempotent-Replay"
	HeaderRequestID       = "X-Request-ID"
	HeaderCallerAddress   = "X-Caller-Address"
	HeaderAuthorization   = "Authorization"
)

const (
	RouteCreateAsset   = "/api/assets/create-asset"
	RouteTransferAsset = "/api/assets/transfer-asset"
	RouteAssetsByOwner = "/api/assets/assets/:ownerAddress"
	RouteOwnerAlias    = "/api/assets/owner/:ownerAddress"
	RouteAsset         = "/api/assets/asset/:assetId"
	RouteWrite         = "/api/assets/writes/:fingerprint"
	RouteHealth        = "/health"
	RouteMetrics       = "/metrics"
)

// MaxBodyBytes caps request bodies
const MaxBodyBytes = 10 << 10

// ============================================================================
// Wire Types
// ============================================================================

// CreateAssetBody is the body of POST create-asset
type CreateAssetBody struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Rarity   int    `json:"rarity"`
}

// TransferAssetBody is the body of POST transfer-asset
type TransferAssetBody struct {
	AssetID   uint64 `json:"assetId"`
	ToAddress string `json:"toAddress"`
}

// WriteResult is the data of a successful write response
type WriteResult struct {
	gamefi.Receipt
	Fingerprint string `json:"fingerprint"`
	Attempts    int    `json:"attempts,omitempty"`
}

// WriteResponse is returned by the write endpoints on success
type WriteResponse struct {
	Message string      `json:"message"`
	Data    WriteResult `json:"data"`
}

// AssetsResponse lists an owner's assets
type AssetsResponse struct {
	Assets []*gamefi.Asset `json:"assets"`
}

// AssetResponse wraps a single asset
type AssetResponse struct {
	Data *gamefi.Asset `json:"data"`
}

// WriteStatusResponse wraps a write record
type WriteStatusResponse struct {
	Data *gamefi.PendingWrite `json:"data"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Status  string                 `json:"status"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes that only exist at the HTTP layer
const (
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
)
