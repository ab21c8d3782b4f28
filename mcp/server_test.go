package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
	"github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/test/mocks/ledger"
)

const alice = "0x2222222222222222222222222222222222222222"

func connect(t *testing.T) (*Client, *ledger.Ledger) {
	t.Helper()
	ctx := context.Background()

	log := logrus.New()
	log.SetOutput(io.Discard)

	l := ledger.New()
	reader := gamefi.NewAssetReader(l, nil, gamefi.WithReaderLogger(log))
	gw := gamefi.NewWriteGateway(l,
		gamefi.WithLogger(log),
		gamefi.WithCacheInvalidator(reader),
		gamefi.WithRetryPolicy(gamefi.RetryPolicy{
			MaxAttempts:       2,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 1,
		}),
	)
	srv := NewServer(gw, reader, WithLogger(log), WithDefaultCaller(l.Address()))

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	serverSession, err := srv.SDKServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-agent", Version: "1.0.0"}, nil)
	session, err := sdkClient.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	client := NewClient(session)
	t.Cleanup(func() { _ = client.Close() })
	return client, l
}

func TestListTools(t *testing.T) {
	client, _ := connect(t)

	names, err := client.ListTools(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ToolCreateAsset, ToolTransferAsset, ToolGetAsset, ToolListAssetsByOwner}, names)
}

func TestCreateAndReadTools(t *testing.T) {
	client, l := connect(t)
	ctx := context.Background()

	result, err := client.CallTool(ctx, ToolCreateAsset, map[string]interface{}{
		"name": "Sword", "category": "weapon", "rarity": 7, "idempotencyKey": "agent-1",
	})
	require.NoError(t, err)
	require.False(t, result.IsError, result.Content)

	receipt, ok := result.StructuredContent["receipt"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, receipt["assetId"])
	assert.Equal(t, false, result.StructuredContent["replayed"])

	// Text content mirrors the structured result
	require.Len(t, result.Content, 1)
	var text map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &text))
	assert.Equal(t, result.StructuredContent["fingerprint"], text["fingerprint"])

	t.Run("retry with the same key replays", func(t *testing.T) {
		again, err := client.CallTool(ctx, ToolCreateAsset, map[string]interface{}{
			"name": "Sword", "category": "weapon", "rarity": 7, "idempotencyKey": "agent-1",
		})
		require.NoError(t, err)
		assert.Equal(t, true, again.StructuredContent["replayed"])
		assert.Equal(t, 1, l.Writes())
	})

	t.Run("get_asset", func(t *testing.T) {
		res, err := client.CallTool(ctx, ToolGetAsset, map[string]interface{}{"assetId": 1})
		require.NoError(t, err)
		require.False(t, res.IsError)
		asset := res.StructuredContent["asset"].(map[string]interface{})
		assert.Equal(t, "Sword", asset["name"])
		assert.Equal(t, ledger.DefaultSigner, asset["owner"])
	})

	t.Run("list_assets_by_owner", func(t *testing.T) {
		res, err := client.CallTool(ctx, ToolListAssetsByOwner, map[string]interface{}{"ownerAddress": ledger.DefaultSigner})
		require.NoError(t, err)
		require.False(t, res.IsError)
		assert.Len(t, res.StructuredContent["assets"], 1)
	})

	t.Run("get_asset unknown id", func(t *testing.T) {
		res, err := client.CallTool(ctx, ToolGetAsset, map[string]interface{}{"assetId": 42})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, gamefi.ErrCodeNotFound, res.StructuredContent["code"])
	})
}

func TestTransferTool(t *testing.T) {
	client, _ := connect(t)
	ctx := context.Background()

	_, err := client.CallTool(ctx, ToolCreateAsset, map[string]interface{}{"name": "Bow", "category": "weapon", "rarity": 3})
	require.NoError(t, err)

	res, err := client.CallTool(ctx, ToolTransferAsset, map[string]interface{}{"assetId": 1, "toAddress": alice})
	require.NoError(t, err)
	require.False(t, res.IsError, res.Content)
	receipt := res.StructuredContent["receipt"].(map[string]interface{})
	assert.Equal(t, alice, receipt["owner"])

	res, err = client.CallTool(ctx, ToolTransferAsset, map[string]interface{}{"assetId": 1, "toAddress": alice, "idempotencyKey": "second"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, gamefi.ErrCodeLedgerRejected, res.StructuredContent["code"])
}

func TestToolErrors(t *testing.T) {
	client, l := connect(t)
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		res, err := client.CallTool(ctx, ToolCreateAsset, map[string]interface{}{"name": "Sword", "category": "weapon", "rarity": 11})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, gamefi.ErrCodeValidation, res.StructuredContent["code"])
		details := res.StructuredContent["details"].(map[string]interface{})
		assert.Contains(t, details, "rarity")
	})

	t.Run("invalid owner address", func(t *testing.T) {
		res, err := client.CallTool(ctx, ToolListAssetsByOwner, map[string]interface{}{"ownerAddress": "nope"})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, gamefi.ErrCodeValidation, res.StructuredContent["code"])
	})

	t.Run("ledger unavailable", func(t *testing.T) {
		boom := gamefi.NewTransientError("network", errors.New("connection refused"))
		l.FailNext(boom, boom)
		res, err := client.CallTool(ctx, ToolCreateAsset, map[string]interface{}{"name": "Axe", "category": "weapon", "rarity": 2})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, gamefi.ErrCodeBlockchain, res.StructuredContent["code"])
	})

	assert.Equal(t, 2, l.Writes())
}

func TestCallerFromMeta(t *testing.T) {
	client, l := connect(t)
	ctx := context.Background()
	args := map[string]interface{}{"name": "Sword", "category": "weapon", "rarity": 7}

	first, err := client.CallTool(ctx, ToolCreateAsset, args)
	require.NoError(t, err)
	second, err := client.WithCaller(alice).CallTool(ctx, ToolCreateAsset, args)
	require.NoError(t, err)

	assert.NotEqual(t, first.StructuredContent["fingerprint"], second.StructuredContent["fingerprint"])
	assert.Equal(t, 2, l.Writes())
}
