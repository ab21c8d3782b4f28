package integration_test

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
	"github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/cache"
	gatewayhttp "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/http"
	"github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/mcp"
	"github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/pkg/metrics"
	"github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/test/mocks/ledger"
)

const recipient = "0x3333333333333333333333333333333333333333"

type stack struct {
	server  *httptest.Server
	ledger  *ledger.Ledger
	gateway *gamefi.WriteGateway
}

// newStack wires the same components as cmd/gateway on top of the mock ledger
func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	log.SetOutput(io.Discard)

	l := ledger.New()
	m := metrics.New()
	reader := gamefi.NewAssetReader(l, m.InstrumentCache(cache.NewMemoryCache(100, time.Minute)),
		gamefi.WithReaderLogger(log))
	gw := m.Instrument(gamefi.NewWriteGateway(l,
		gamefi.WithIdempotencyStore(gamefi.NewInMemoryStore(time.Hour)),
		gamefi.WithCacheInvalidator(reader),
		gamefi.WithLogger(log),
		gamefi.WithRetryPolicy(gamefi.RetryPolicy{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 1,
		}),
	))

	tools := mcp.NewServer(gw, reader, mcp.WithLogger(log), mcp.WithDefaultCaller(l.Address()))
	handler := gatewayhttp.NewServer(gw, reader,
		gatewayhttp.WithServerLogger(log),
		gatewayhttp.WithFallbackCaller(l.Address()),
		gatewayhttp.WithMiddleware(m.Middleware()),
		gatewayhttp.WithMetricsHandler(m.Handler()),
		gatewayhttp.WithHandler("/mcp/sse", tools.SSEHandler()),
	).Handler()

	s := &stack{server: httptest.NewServer(handler), ledger: l, gateway: gw}
	t.Cleanup(func() {
		s.server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return s
}

func (s *stack) mcpClient(t *testing.T, ctx context.Context) *mcp.Client {
	t.Helper()
	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "integration-agent", Version: "1.0.0"}, nil)
	session, err := sdkClient.Connect(ctx, &mcpsdk.SSEClientTransport{Endpoint: s.server.URL + "/mcp/sse"}, nil)
	if err != nil {
		t.Fatalf("Failed to connect MCP client: %v", err)
	}
	client := mcp.NewClient(session)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// TestAssetLifecycle creates an asset over HTTP, transfers it through the
// MCP tools and reads it back over HTTP
func TestAssetLifecycle(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	api := gatewayhttp.NewClient(s.server.URL, gatewayhttp.WithRetries(2, 10*time.Millisecond))

	// ========================================================================
	// Create over HTTP
	// ========================================================================
	created, err := api.CreateAsset(ctx, gatewayhttp.CreateAssetBody{Name: "Dragon Blade", Category: "weapon", Rarity: 9}, "lifecycle-create")
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if created.AssetID == 0 || created.TxHash == "" {
		t.Fatalf("Expected asset id and tx hash, got %+v", created)
	}
	t.Logf("🗡️  Created asset %d in tx %s", created.AssetID, created.TxHash)

	replay, err := api.CreateAsset(ctx, gatewayhttp.CreateAssetBody{Name: "Dragon Blade", Category: "weapon", Rarity: 9}, "lifecycle-create")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if replay.AssetID != created.AssetID || s.ledger.Writes() != 1 {
		t.Fatalf("Expected replay of asset %d with one ledger write, got asset %d and %d writes",
			created.AssetID, replay.AssetID, s.ledger.Writes())
	}

	// Warm the read cache so the transfer has something to invalidate
	asset, err := api.Asset(ctx, created.AssetID)
	if err != nil {
		t.Fatalf("Asset failed: %v", err)
	}
	if asset.Owner != s.ledger.Address() {
		t.Fatalf("Expected owner %s, got %s", s.ledger.Address(), asset.Owner)
	}

	// ========================================================================
	// Transfer over MCP
	// ========================================================================
	agent := s.mcpClient(t, ctx)
	result, err := agent.CallTool(ctx, mcp.ToolTransferAsset, map[string]interface{}{
		"assetId":        created.AssetID,
		"toAddress":      recipient,
		"idempotencyKey": "lifecycle-transfer",
	})
	if err != nil {
		t.Fatalf("transfer_asset failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("transfer_asset returned an error result: %+v", result.StructuredContent)
	}
	t.Logf("🔁 Transferred asset %d to %s", created.AssetID, recipient)

	// ========================================================================
	// Read back over HTTP
	// ========================================================================
	asset, err = api.Asset(ctx, created.AssetID)
	if err != nil {
		t.Fatalf("Asset failed: %v", err)
	}
	if asset.Owner != recipient {
		t.Fatalf("Expected cached read to reflect the transfer, owner is %s", asset.Owner)
	}

	owned, err := api.AssetsByOwner(ctx, recipient)
	if err != nil {
		t.Fatalf("AssetsByOwner failed: %v", err)
	}
	if len(owned) != 1 || owned[0].ID != created.AssetID {
		t.Fatalf("Expected recipient to own asset %d, got %+v", created.AssetID, owned)
	}

	record, err := api.Write(ctx, created.Fingerprint)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if record.Status != gamefi.StatusConfirmed {
		t.Fatalf("Expected confirmed write record, got %s", record.Status)
	}
}

// TestConcurrentRetriesShareOneWrite fires the same keyed create from HTTP
// and MCP at once
func TestConcurrentRetriesShareOneWrite(t *testing.T) {
	s := newStack(t)
	s.ledger.WithDelay(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	api := gatewayhttp.NewClient(s.server.URL)
	agent := s.mcpClient(t, ctx)

	type result struct {
		id  uint64
		err error
	}
	results := make(chan result, 2)

	go func() {
		out, err := api.CreateAsset(ctx, gatewayhttp.CreateAssetBody{Name: "Shield", Category: "armor", Rarity: 4}, "shared-key")
		if err != nil {
			results <- result{err: err}
			return
		}
		results <- result{id: out.AssetID}
	}()
	go func() {
		out, err := agent.CallTool(ctx, mcp.ToolCreateAsset, map[string]interface{}{
			"name": "Shield", "category": "armor", "rarity": 4, "idempotencyKey": "shared-key",
		})
		if err != nil {
			results <- result{err: err}
			return
		}
		receipt, _ := out.StructuredContent["receipt"].(map[string]interface{})
		id, _ := receipt["assetId"].(float64)
		results <- result{id: uint64(id)}
	}()

	var ids []uint64
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("Submit failed: %v", r.err)
		}
		ids = append(ids, r.id)
	}

	if ids[0] != ids[1] || ids[0] == 0 {
		t.Fatalf("Expected both surfaces to see the same asset, got %v", ids)
	}
	if s.ledger.Writes() != 1 {
		t.Fatalf("Expected exactly one ledger write, got %d", s.ledger.Writes())
	}
}
