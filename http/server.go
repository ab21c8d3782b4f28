package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// ============================================================================
// Server
// ============================================================================

// Server serves the asset API on top of a WriteGateway and an AssetReader
type Server struct {
	gateway *gamefi.WriteGateway
	reader  *gamefi.AssetReader
	logger  logrus.FieldLogger

	requestTimeout time.Duration
	jwtSecret      []byte
	fallbackCaller string
	limiter        *RateLimiter
	middleware     []gin.HandlerFunc
	metrics        http.Handler
	extra          map[string]http.Handler
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerLogger sets the logger
func WithServerLogger(logger logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRequestTimeout bounds how long a write request waits for its outcome.
// The write itself keeps running past it.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithJWTSecret requires HS256 bearer tokens naming the caller
func WithJWTSecret(secret []byte) ServerOption {
	return func(s *Server) {
		s.jwtSecret = secret
	}
}

// WithFallbackCaller sets the caller used when a request names none
func WithFallbackCaller(address string) ServerOption {
	return func(s *Server) {
		s.fallbackCaller = address
	}
}

// WithRateLimiter limits /api requests per client IP
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) {
		s.limiter = rl
	}
}

// WithMiddleware adds handlers run before every route
func WithMiddleware(handlers ...gin.HandlerFunc) ServerOption {
	return func(s *Server) {
		s.middleware = append(s.middleware, handlers...)
	}
}

// WithMetricsHandler serves h at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithHandler mounts an extra handler for every method under path
func WithHandler(path string, h http.Handler) ServerOption {
	return func(s *Server) {
		if s.extra == nil {
			s.extra = make(map[string]http.Handler)
		}
		s.extra[path] = h
	}
}

// NewServer creates a server. Call Handler to obtain the http.Handler.
func NewServer(gateway *gamefi.WriteGateway, reader *gamefi.AssetReader, opts ...ServerOption) *Server {
	s := &Server{
		gateway:        gateway,
		reader:         reader,
		logger:         logrus.StandardLogger(),
		requestTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the gin engine with all routes and middleware
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(RequestLogger(s.logger), Recovery())
	r.Use(s.middleware...)

	r.GET(RouteHealth, s.health)
	if s.metrics != nil {
		r.GET(RouteMetrics, gin.WrapH(s.metrics))
	}
	for path, h := range s.extra {
		r.Any(path, gin.WrapH(h))
	}

	api := r.Group("/api", BodyLimit(MaxBodyBytes))
	if s.limiter != nil {
		api.Use(s.limiter.Handler())
	}

	reads := api.Group("/assets")
	reads.GET("/assets/:ownerAddress", s.listAssets)
	reads.GET("/owner/:ownerAddress", s.listAssets)
	reads.GET("/asset/:assetId", s.getAsset)
	reads.GET("/writes/:fingerprint", s.getWrite)

	writes := api.Group("/assets", CallerIdentity(s.jwtSecret, s.fallbackCaller))
	writes.POST("/create-asset", s.createAsset)
	writes.POST("/transfer-asset", s.transferAsset)

	return r
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createAsset(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if verr := validateBody(createSchema, body, "Invalid asset data"); verr != nil {
		abortWithError(c, verr)
		return
	}

	var in CreateAssetBody
	if !decodeBody(c, body, &in) {
		return
	}

	req := gamefi.NewCreateRequest(callerFrom(c), c.GetHeader(HeaderIdempotencyKey), gamefi.CreateAssetPayload{
		Name:     in.Name,
		Category: in.Category,
		Rarity:   in.Rarity,
	})
	s.submit(c, req, "Asset created successfully")
}

func (s *Server) transferAsset(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if verr := validateBody(transferSchema, body, "Invalid transfer data"); verr != nil {
		abortWithError(c, verr)
		return
	}

	var in TransferAssetBody
	if !decodeBody(c, body, &in) {
		return
	}

	req := gamefi.NewTransferRequest(callerFrom(c), c.GetHeader(HeaderIdempotencyKey), gamefi.TransferAssetPayload{
		AssetID:   in.AssetID,
		ToAddress: in.ToAddress,
	})
	s.submit(c, req, "Asset transferred successfully")
}

func (s *Server) submit(c *gin.Context, req gamefi.AssetRequest, message string) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()

	out, err := s.gateway.Submit(ctx, req)
	if err != nil {
		abortWithCause(c, err)
		return
	}
	if out.Replayed {
		c.Header(HeaderIdempotentReply, "true")
	}
	if !out.Accepted() {
		abortWithError(c, out.Error)
		return
	}

	c.JSON(http.StatusOK, WriteResponse{
		Message: message,
		Data: WriteResult{
			Receipt:     *out.Receipt,
			Fingerprint: out.Fingerprint,
			Attempts:    out.Attempts,
		},
	})
}

func (s *Server) listAssets(c *gin.Context) {
	assets, err := s.reader.GetAssetsByOwner(c.Request.Context(), c.Param("ownerAddress"))
	if err != nil {
		abortWithCause(c, err)
		return
	}
	c.JSON(http.StatusOK, AssetsResponse{Assets: assets})
}

func (s *Server) getAsset(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("assetId"), 10, 64)
	if err != nil || id == 0 {
		abortWithError(c, gamefi.NewGatewayError(gamefi.ErrCodeValidation, "Invalid asset id",
			map[string]interface{}{"assetId": "must be a positive integer"}))
		return
	}

	asset, err := s.reader.GetAsset(c.Request.Context(), id)
	if err != nil {
		abortWithCause(c, err)
		return
	}
	c.JSON(http.StatusOK, AssetResponse{Data: asset})
}

func (s *Server) getWrite(c *gin.Context) {
	rec, err := s.gateway.Pending(c.Request.Context(), c.Param("fingerprint"))
	if err != nil {
		abortWithCause(c, err)
		return
	}
	if rec == nil {
		abortWithError(c, gamefi.NewGatewayError(gamefi.ErrCodeNotFound, "Write not found", nil))
		return
	}
	c.JSON(http.StatusOK, WriteStatusResponse{Data: rec})
}

// ============================================================================
// Body Helpers
// ============================================================================

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Status:  "error",
				Code:    gamefi.ErrCodeValidation,
				Message: "Request body too large",
			})
			return nil, false
		}
		abortWithCause(c, err)
		return nil, false
	}
	return body, true
}

func decodeBody(c *gin.Context, body []byte, v interface{}) bool {
	if err := json.Unmarshal(body, v); err != nil {
		abortWithError(c, gamefi.NewGatewayError(gamefi.ErrCodeValidation, "Request body is not valid JSON", nil))
		return false
	}
	return true
}
