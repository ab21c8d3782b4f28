package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// Implementation identity reported to clients
const (
	ServerName    = "gamefi-asset-gateway"
	ServerVersion = "1.0.0"
)

// Server registers the asset tools on an MCP server
type Server struct {
	gateway *gamefi.WriteGateway
	reader  *gamefi.AssetReader
	logger  logrus.FieldLogger
	caller  string
	sdk     *mcpsdk.Server
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDefaultCaller sets the caller used when a call's _meta names none
func WithDefaultCaller(address string) Option {
	return func(s *Server) {
		s.caller = address
	}
}

// NewServer creates the MCP server with all tools registered
func NewServer(gateway *gamefi.WriteGateway, reader *gamefi.AssetReader, opts ...Option) *Server {
	s := &Server{
		gateway: gateway,
		reader:  reader,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sdk = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)

	s.register(ToolCreateAsset, "Create a game asset on chain. Safe to retry with the same idempotencyKey.",
		createAssetInputSchema, s.createAsset)
	s.register(ToolTransferAsset, "Transfer a game asset owned by the gateway signer to another address.",
		transferAssetInputSchema, s.transferAsset)
	s.register(ToolGetAsset, "Read a game asset by id.",
		getAssetInputSchema, s.getAsset)
	s.register(ToolListAssetsByOwner, "List the game assets owned by an address.",
		listAssetsInputSchema, s.listAssets)

	return s
}

// SDKServer returns the underlying MCP server
func (s *Server) SDKServer() *mcpsdk.Server {
	return s.sdk
}

// SSEHandler serves the tools over the SSE transport
func (s *Server) SSEHandler() http.Handler {
	return mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server {
		return s.sdk
	}, &mcpsdk.SSEOptions{})
}

// register adapts a ToolHandler to the SDK's handler signature
func (s *Server) register(name, description, schema string, handler ToolHandler) {
	s.sdk.AddTool(&mcpsdk.Tool{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(schema),
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		meta := make(map[string]interface{})
		if req.Params.Meta != nil {
			meta = req.Params.Meta.GetMeta()
		}

		result, err := handler(ctx, ToolContext{
			ToolName:  req.Params.Name,
			Arguments: req.Params.Arguments,
			Meta:      meta,
		})
		if err != nil {
			s.logger.WithError(err).WithField("tool", name).Error("tool failed")
			result = errorResult(gamefi.NewGatewayError(gamefi.ErrCodeInternal, "An unexpected error occurred", nil))
		}

		content := make([]mcpsdk.Content, len(result.Content))
		for i, item := range result.Content {
			content[i] = &mcpsdk.TextContent{Text: item.Text}
		}
		callResult := &mcpsdk.CallToolResult{
			Content: content,
			IsError: result.IsError,
		}
		if result.StructuredContent != nil {
			callResult.StructuredContent = result.StructuredContent
		}
		return callResult, nil
	})
}

// ============================================================================
// Tool Handlers
// ============================================================================

func (s *Server) createAsset(ctx context.Context, tc ToolContext) (ToolResult, error) {
	var args createAssetArgs
	if res, ok := decodeArgs(tc.Arguments, &args); !ok {
		return res, nil
	}
	req := gamefi.NewCreateRequest(s.callerFor(tc), args.IdempotencyKey, gamefi.CreateAssetPayload{
		Name:     args.Name,
		Category: args.Category,
		Rarity:   args.Rarity,
	})
	return s.submit(ctx, req)
}

func (s *Server) transferAsset(ctx context.Context, tc ToolContext) (ToolResult, error) {
	var args transferAssetArgs
	if res, ok := decodeArgs(tc.Arguments, &args); !ok {
		return res, nil
	}
	req := gamefi.NewTransferRequest(s.callerFor(tc), args.IdempotencyKey, gamefi.TransferAssetPayload{
		AssetID:   args.AssetID,
		ToAddress: args.ToAddress,
	})
	return s.submit(ctx, req)
}

func (s *Server) submit(ctx context.Context, req gamefi.AssetRequest) (ToolResult, error) {
	out, err := s.gateway.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return errorResult(gamefi.NewGatewayError("TIMEOUT",
				"The write is still running; call again with the same idempotencyKey to get its outcome", nil)), nil
		}
		return ToolResult{}, err
	}
	if !out.Accepted() {
		return errorResult(out.Error), nil
	}
	return jsonResult(map[string]interface{}{
		"fingerprint": out.Fingerprint,
		"replayed":    out.Replayed,
		"receipt":     out.Receipt,
	})
}

func (s *Server) getAsset(ctx context.Context, tc ToolContext) (ToolResult, error) {
	var args getAssetArgs
	if res, ok := decodeArgs(tc.Arguments, &args); !ok {
		return res, nil
	}
	if args.AssetID == 0 {
		return errorResult(gamefi.NewGatewayError(gamefi.ErrCodeValidation, "Invalid asset id",
			map[string]interface{}{"assetId": "must be a positive integer"})), nil
	}

	asset, err := s.reader.GetAsset(ctx, args.AssetID)
	if err != nil {
		if errors.Is(err, gamefi.ErrAssetNotFound) {
			return errorResult(gamefi.NewGatewayError(gamefi.ErrCodeNotFound, "Asset not found", nil)), nil
		}
		return ToolResult{}, err
	}
	return jsonResult(map[string]interface{}{"asset": asset})
}

func (s *Server) listAssets(ctx context.Context, tc ToolContext) (ToolResult, error) {
	var args listAssetsArgs
	if res, ok := decodeArgs(tc.Arguments, &args); !ok {
		return res, nil
	}

	assets, err := s.reader.GetAssetsByOwner(ctx, args.OwnerAddress)
	if err != nil {
		var gerr *gamefi.GatewayError
		if errors.As(err, &gerr) {
			return errorResult(gerr), nil
		}
		return ToolResult{}, err
	}
	return jsonResult(map[string]interface{}{"assets": assets})
}

func (s *Server) callerFor(tc ToolContext) string {
	if caller, ok := tc.Meta[MetaKeyCaller].(string); ok && caller != "" {
		return caller
	}
	return s.caller
}

// ============================================================================
// Result Helpers
// ============================================================================

func decodeArgs(raw []byte, v interface{}) (ToolResult, bool) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errorResult(gamefi.NewGatewayError(gamefi.ErrCodeValidation,
			fmt.Sprintf("failed to unmarshal arguments: %v", err), nil)), false
	}
	return ToolResult{}, true
}

// jsonResult returns v as both text and structured content
func jsonResult(v map[string]interface{}) (ToolResult, error) {
	text, err := json.Marshal(v)
	if err != nil {
		return ToolResult{}, fmt.Errorf("failed to marshal result: %w", err)
	}
	var structured map[string]interface{}
	if err := json.Unmarshal(text, &structured); err != nil {
		return ToolResult{}, fmt.Errorf("failed to unmarshal structured content: %w", err)
	}
	return ToolResult{
		Content:           []ContentItem{{Type: "text", Text: string(text)}},
		StructuredContent: structured,
	}, nil
}

func errorResult(err *gamefi.GatewayError) ToolResult {
	structured := map[string]interface{}{
		"code":    err.Code,
		"message": err.Message,
	}
	if len(err.Details) > 0 {
		structured["details"] = err.Details
	}
	text, _ := json.Marshal(structured)
	return ToolResult{
		Content:           []ContentItem{{Type: "text", Text: string(text)}},
		IsError:           true,
		StructuredContent: structured,
	}
}
