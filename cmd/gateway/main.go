// Command gateway runs the GameFi asset write gateway.
//
// It serves the HTTP API under /api, health and metrics endpoints, and,
// when MCP_ENABLED is set, the MCP tools over SSE at /mcp/sse.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
	"github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/cache"
	gatewayhttp "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/http"
	"github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/idempotency"
	"github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/ledger/evm"
	"github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/mcp"
	"github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/pkg/config"
	"github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem/pkg/metrics"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("gateway stopped")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Ledger
	// ========================================================================

	ledger, err := evm.Dial(ctx, evm.Config{
		RPCURL:          cfg.RPCURL,
		PrivateKey:      cfg.PrivateKey,
		ContractAddress: cfg.ContractAddress,
		ChainID:         cfg.ChainID,
		GasLimit:        cfg.MaxGasLimit,
		Logger:          log.WithField("component", "ledger"),
	})
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"signer":   ledger.Address(),
		"contract": cfg.ContractAddress,
	}).Info("connected to ledger")

	// ========================================================================
	// Backends
	// ========================================================================

	var redisClient *redis.Client
	if cfg.StoreBackend == config.BackendRedis || cfg.CacheBackend == config.BackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
	}

	storeOpts := []idempotency.Option{
		idempotency.WithRetention(cfg.IdempotencyRetention),
		idempotency.WithSchedule(cfg.PruneSchedule),
		idempotency.WithLogger(log.WithField("component", "pruner")),
	}

	var store gamefi.IdempotencyStore
	switch cfg.StoreBackend {
	case config.BackendRedis:
		store = idempotency.NewRedisStore(redisClient, storeOpts...)
	case config.BackendPostgres:
		pg, err := idempotency.OpenPostgres(ctx, cfg.DatabaseURL, storeOpts...)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
	default:
		store = gamefi.NewInMemoryStore(cfg.IdempotencyRetention)
	}

	var readCache gamefi.ReadCache
	switch cfg.CacheBackend {
	case config.BackendRedis:
		readCache = cache.NewRedisCache(redisClient, cfg.CacheTTL)
	default:
		readCache = cache.NewMemoryCache(cfg.CacheSize, cfg.CacheTTL)
	}

	// ========================================================================
	// Gateway
	// ========================================================================

	m := metrics.New()
	reader := gamefi.NewAssetReader(ledger, m.InstrumentCache(readCache),
		gamefi.WithReaderLogger(log.WithField("component", "reader")))

	gateway := m.Instrument(gamefi.NewWriteGateway(ledger,
		gamefi.WithIdempotencyStore(store),
		gamefi.WithCacheInvalidator(reader),
		gamefi.WithRetryPolicy(cfg.RetryPolicy()),
		gamefi.WithWriteTimeout(cfg.WriteTimeout),
		gamefi.WithLogger(log.WithField("component", "gateway")),
	))

	pruner := idempotency.NewPruner(store, storeOpts...)
	if err := pruner.Start(); err != nil {
		return err
	}
	defer pruner.Stop()

	// ========================================================================
	// HTTP
	// ========================================================================

	limiter := gatewayhttp.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	go sweepLimiter(ctx, limiter, cfg.RateLimitWindow)

	opts := []gatewayhttp.ServerOption{
		gatewayhttp.WithServerLogger(log.WithField("component", "http")),
		gatewayhttp.WithRequestTimeout(cfg.RequestTimeout),
		gatewayhttp.WithFallbackCaller(ledger.Address()),
		gatewayhttp.WithRateLimiter(limiter),
		gatewayhttp.WithMiddleware(m.Middleware()),
		gatewayhttp.WithMetricsHandler(m.Handler()),
	}
	if cfg.JWTSecret != "" {
		opts = append(opts, gatewayhttp.WithJWTSecret([]byte(cfg.JWTSecret)))
	}
	if cfg.MCPEnabled {
		tools := mcp.NewServer(gateway, reader,
			mcp.WithLogger(log.WithField("component", "mcp")),
			mcp.WithDefaultCaller(ledger.Address()))
		opts = append(opts, gatewayhttp.WithHandler("/mcp/sse", tools.SSEHandler()))
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           gatewayhttp.NewServer(gateway, reader, opts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr": srv.Addr,
			"env":  cfg.NodeEnv,
			"mcp":  cfg.MCPEnabled,
		}).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	// ========================================================================
	// Shutdown
	// ========================================================================

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("writes still running at shutdown")
	}
	log.Info("gateway stopped")
	return nil
}

// sweepLimiter drops idle per-client limiters once per window
func sweepLimiter(ctx context.Context, limiter *gatewayhttp.RateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Cleanup()
		}
	}
}
