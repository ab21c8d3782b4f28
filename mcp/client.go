package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client calls the asset tools through a connected SDK session.
// The caller address, when set, is sent in _meta on every call.
type Client struct {
	session *mcpsdk.ClientSession
	caller  string
}

// NewClient wraps a connected session
func NewClient(session *mcpsdk.ClientSession) *Client {
	return &Client{session: session}
}

// WithCaller returns a copy of the client that identifies as caller
func (c *Client) WithCaller(caller string) *Client {
	cp := *c
	cp.caller = caller
	return &cp
}

// Close closes the session
func (c *Client) Close() error {
	return c.session.Close()
}

// CallTool invokes a tool and converts the SDK result
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (ToolResult, error) {
	params := &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	}
	if c.caller != "" {
		params.Meta = mcpsdk.Meta{MetaKeyCaller: c.caller}
	}

	result, err := c.session.CallTool(ctx, params)
	if err != nil {
		return ToolResult{}, err
	}

	content := make([]ContentItem, 0, len(result.Content))
	for _, item := range result.Content {
		if text, ok := item.(*mcpsdk.TextContent); ok {
			content = append(content, ContentItem{Type: "text", Text: text.Text})
		}
	}

	out := ToolResult{
		Content: content,
		IsError: result.IsError,
	}
	if structured, ok := result.StructuredContent.(map[string]interface{}); ok {
		out.StructuredContent = structured
	}
	return out, nil
}

// ListTools returns the names of the tools the server offers
func (c *Client) ListTools(ctx context.Context) ([]string, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}
