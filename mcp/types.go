package mcp

import (
	"context"
)

// Tool names
const (
	ToolCreateAsset       = "create_asset"
	ToolTransferAsset     = "transfer_asset"
	ToolGetAsset          = "get_asset"
	ToolListAssetsByOwner = "list_assets_by_owner"
)

// MetaKeyCaller is the _meta key an agent may use to name the caller address
const MetaKeyCaller = "gamefi/caller"

// ToolContext provides context during tool execution
type ToolContext struct {
	ToolName  string
	Arguments []byte
	Meta      map[string]interface{}
}

// ToolResult represents an MCP tool call result
type ToolResult struct {
	Content           []ContentItem
	IsError           bool
	StructuredContent map[string]interface{}
}

// ContentItem represents an MCP content item
type ContentItem struct {
	Type string
	Text string
}

// ToolHandler is the signature for tool handlers
type ToolHandler func(ctx context.Context, toolCtx ToolContext) (ToolResult, error)

// Tool argument shapes
type createAssetArgs struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	Rarity         int    `json:"rarity"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type transferAssetArgs struct {
	AssetID        uint64 `json:"assetId"`
	ToAddress      string `json:"toAddress"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type getAssetArgs struct {
	AssetID uint64 `json:"assetId"`
}

type listAssetsArgs struct {
	OwnerAddress string `json:"ownerAddress"`
}

// Input schemas advertised to agents
const (
	createAssetInputSchema = `{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Asset name"},
			"category": {"type": "string", "description": "Asset category, e.g. weapon"},
			"rarity": {"type": "integer", "minimum": 1, "maximum": 10},
			"idempotencyKey": {"type": "string", "description": "Reuse to make retries safe"}
		},
		"required": ["name", "category", "rarity"]
	}`

	transferAssetInputSchema = `{
		"type": "object",
		"properties": {
			"assetId": {"type": "integer", "minimum": 1},
			"toAddress": {"type": "string", "description": "Recipient 0x address"},
			"idempotencyKey": {"type": "string"}
		},
		"required": ["assetId", "toAddress"]
	}`

	getAssetInputSchema = `{
		"type": "object",
		"properties": {"assetId": {"type": "integer", "minimum": 1}},
		"required": ["assetId"]
	}`

	listAssetsInputSchema = `{
		"type": "object",
		"properties": {"ownerAddress": {"type": "string"}},
		"required": ["ownerAddress"]
	}`
)
