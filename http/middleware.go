package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

const (
	ctxKeyLogger = "gamefi.logger"
	ctxKeyCaller = "gamefi.caller"
)

// logger returns the request-scoped logger set by RequestLogger
func logger(c *gin.Context) logrus.FieldLogger {
	if v, ok := c.Get(ctxKeyLogger); ok {
		if l, ok := v.(logrus.FieldLogger); ok {
			return l
		}
	}
	return logrus.StandardLogger()
}

// callerFrom returns the caller address resolved by CallerIdentity
func callerFrom(c *gin.Context) string {
	return c.GetString(ctxKeyCaller)
}

// ============================================================================
// Request ID and Access Log
// ============================================================================

// RequestLogger tags each request with an id and writes an access log line
func RequestLogger(base logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)

		log := base.WithField("request_id", id)
		c.Set(ctxKeyLogger, log)

		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Warn("request completed")
		default:
			entry.Info("request completed")
		}
	}
}

// Recovery turns panics into INTERNAL_ERROR responses
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger(c).WithField("panic", fmt.Sprint(r)).Error("handler panicked")
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Status:  "error",
					Code:    gamefi.ErrCodeInternal,
					Message: msgInternal,
				})
			}
		}()
		c.Next()
	}
}

// BodyLimit caps the request body at n bytes
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// ============================================================================
// Rate Limiting
// ============================================================================

// RateLimiter applies a token bucket per client IP. A limit of n requests
// per window refills at n/window with a burst of n.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows requests per window for each client
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(requests) / window.Seconds()),
		burst:    requests,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Cleanup forgets clients whose bucket has refilled completely
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, l := range rl.limiters {
		if l.TokensAt(now) >= float64(rl.burst) {
			delete(rl.limiters, key)
		}
	}
}

// Handler returns the middleware
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiter(c.ClientIP()).Allow() {
			logger(c).WithField("client", c.ClientIP()).Warn("rate limit exceeded")
			abortWithError(c, gamefi.NewGatewayError(ErrCodeRateLimited,
				"Too many requests from this IP, please try again later.", nil))
			return
		}
		c.Next()
	}
}

// ============================================================================
// Caller Identity
// ============================================================================

// CallerClaims are the JWT claims accepted by CallerIdentity.
// The subject is the caller's address.
type CallerClaims struct {
	jwt.RegisteredClaims
}

// CallerIdentity resolves the caller address for each request.
//
// With a secret, a valid HS256 bearer token is required and its subject is
// the caller. Without one, X-Caller-Address is used and then fallback; any
// client can claim any address that way, so it is a development mode only
// and config.Validate refuses to start in production without JWT_SECRET.
func CallerIdentity(secret []byte, fallback string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			caller := c.GetHeader(HeaderCallerAddress)
			if caller == "" {
				caller = fallback
			}
			c.Set(ctxKeyCaller, caller)
			c.Next()
			return
		}

		caller, err := parseCaller(c.GetHeader(HeaderAuthorization), secret)
		if err != nil {
			logger(c).WithError(err).Debug("rejected bearer token")
			abortWithError(c, gamefi.NewGatewayError(ErrCodeUnauthorized, "Invalid or missing bearer token", nil))
			return
		}
		c.Set(ctxKeyCaller, caller)
		c.Next()
	}
}

func parseCaller(header string, secret []byte) (string, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("missing bearer token")
	}

	parsed, err := jwt.ParseWithClaims(token, &CallerClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(*CallerClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if verr := gamefi.ValidateAddress("sub", claims.Subject); verr != nil {
		return "", verr
	}
	return claims.Subject, nil
}

// SignCallerToken issues a token for caller, valid for ttl
func SignCallerToken(secret []byte, caller string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
