package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// ============================================================================
// API Client
// ============================================================================

const (
	// DefaultClientRetries is the number of retries after the first attempt
	DefaultClientRetries = 3

	// DefaultClientRetryDelay is multiplied by the retry number
	DefaultClientRetryDelay = 1 * time.Second
)

// APIError is a non-2xx response from the gateway
type APIError struct {
	StatusCode int
	ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client calls the asset API. Writes are retried on 503, 504 and network
// errors, always with the same Idempotency-Key, so a retry never produces a
// second ledger write.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	caller     string
	retries    int
	retryDelay time.Duration
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBearerToken sends token in the Authorization header
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithCallerAddress sends address in X-Caller-Address
func WithCallerAddress(address string) ClientOption {
	return func(c *Client) {
		c.caller = address
	}
}

// WithRetries sets the retry count and the base delay; retry n waits n*delay
func WithRetries(retries int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.retries = retries
		c.retryDelay = delay
	}
}

// NewClient creates a client for the gateway at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retries:    DefaultClientRetries,
		retryDelay: DefaultClientRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAsset creates an asset. An empty idempotencyKey is replaced by a
// fresh one shared by all retries of this call.
func (c *Client) CreateAsset(ctx context.Context, body CreateAssetBody, idempotencyKey string) (*WriteResult, error) {
	var resp WriteResponse
	if err := c.write(ctx, RouteCreateAsset, body, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// TransferAsset transfers an asset. See CreateAsset for idempotencyKey.
func (c *Client) TransferAsset(ctx context.Context, body TransferAssetBody, idempotencyKey string) (*WriteResult, error) {
	var resp WriteResponse
	if err := c.write(ctx, RouteTransferAsset, body, idempotencyKey, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// AssetsByOwner lists the assets of owner
func (c *Client) AssetsByOwner(ctx context.Context, owner string) ([]*gamefi.Asset, error) {
	var resp AssetsResponse
	path := "/api/assets/assets/" + url.PathEscape(owner)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Assets, nil
}

// Asset returns one asset
func (c *Client) Asset(ctx context.Context, assetID uint64) (*gamefi.Asset, error) {
	var resp AssetResponse
	path := "/api/assets/asset/" + strconv.FormatUint(assetID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Write returns the record of a submitted write
func (c *Client) Write(ctx context.Context, fingerprint string) (*gamefi.PendingWrite, error) {
	var resp WriteStatusResponse
	path := "/api/assets/writes/" + url.PathEscape(fingerprint)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) write(ctx context.Context, path string, body interface{}, idempotencyKey string, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.do(ctx, http.MethodPost, path, payload, idempotencyKey, out)
		if lastErr == nil || ctx.Err() != nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func retryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.StatusCode == http.StatusServiceUnavailable || apiErr.StatusCode == http.StatusGatewayTimeout
	}
	// Transport failures
	_, isURLErr := err.(*url.Error)
	return isURLErr
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	}
	if c.token != "" {
		req.Header.Set(HeaderAuthorization, "Bearer "+c.token)
	}
	if c.caller != "" {
		req.Header.Set(HeaderCallerAddress, c.caller)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, &apiErr.ErrorResponse); err != nil {
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
