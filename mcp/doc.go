// Package mcp exposes the asset gateway to AI agents as MCP (Model Context
// Protocol) tools.
//
// The tools share the WriteGateway and AssetReader used by the HTTP surface,
// so a write issued by an agent is deduplicated, serialised and retried
// exactly like one issued over HTTP.
//
// # Tools
//
//   - create_asset: {name, category, rarity, idempotencyKey?}
//   - transfer_asset: {assetId, toAddress, idempotencyKey?}
//   - get_asset: {assetId}
//   - list_assets_by_owner: {ownerAddress}
//
// Failures come back as IsError results whose structured content carries the
// stable error code, e.g. {"code": "VALIDATION_ERROR", ...}.
//
// # Server Usage
//
//	srv := mcp.NewServer(gateway, reader, mcp.WithLogger(log))
//	mux.Handle("/mcp/sse", srv.SSEHandler())
//
// # Client Usage
//
//	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agent", Version: "1.0.0"}, nil)
//	session, _ := sdkClient.Connect(ctx, &mcpsdk.SSEClientTransport{Endpoint: url}, nil)
//	client := mcp.NewClient(session)
//	result, err := client.CallTool(ctx, mcp.ToolCreateAsset, map[string]interface{}{
//	    "name": "Sword", "category": "weapon", "rarity": 7,
//	})
package mcp
