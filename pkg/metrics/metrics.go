// Package metrics exposes Prometheus collectors for the asset gateway.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

const namespace = "gamefi_gateway"

// Metrics owns a private registry and the gateway collectors
type Metrics struct {
	registry *prometheus.Registry

	writesStarted *prometheus.CounterVec
	writesDone    *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
	writeAttempts *prometheus.HistogramVec
	retries       *prometheus.CounterVec

	cacheRequests *prometheus.CounterVec

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, along with the process
// and Go runtime collectors, on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		writesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writes",
			Name:      "started_total",
			Help:      "Writes queued for the ledger.",
		}, []string{"operation"}),

		writesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writes",
			Name:      "completed_total",
			Help:      "Writes that reached a terminal state, by result code.",
		}, []string{"operation", "result"}),

		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "writes",
			Name:      "duration_seconds",
			Help:      "Time from queueing a write to its terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"operation"}),

		writeAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "writes",
			Name:      "ledger_attempts",
			Help:      "Ledger calls made per terminal write.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}, []string{"operation"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writes",
			Name:      "retries_total",
			Help:      "Ledger attempts that failed transiently and were retried.",
		}, []string{"operation", "reason"}),

		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Read cache lookups by result.",
		}, []string{"result"}),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.writesStarted,
		m.writesDone,
		m.writeDuration,
		m.writeAttempts,
		m.retries,
		m.cacheRequests,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry backing Handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ============================================================================
// Gateway
// ============================================================================

// Instrument registers hooks on gw that record write metrics.
// Replays never reach the hooks, so the counters track ledger work only.
func (m *Metrics) Instrument(gw *gamefi.WriteGateway) *gamefi.WriteGateway {
	return gw.
		OnBeforeSubmit(func(ctx gamefi.SubmitContext) (*gamefi.BeforeHookResult, error) {
			m.writesStarted.WithLabelValues(string(ctx.Request.Operation)).Inc()
			return nil, nil
		}).
		OnAfterSubmit(func(ctx gamefi.SubmitResultContext) error {
			m.observeWrite(ctx.Request.Operation, "confirmed", ctx.Attempts, ctx.Duration)
			return nil
		}).
		OnSubmitFailure(func(ctx gamefi.SubmitFailureContext) (*gamefi.SubmitFailureHookResult, error) {
			result := gamefi.ErrCodeInternal
			if ctx.Error != nil {
				result = ctx.Error.Code
			}
			m.observeWrite(ctx.Request.Operation, result, ctx.Attempts, ctx.Duration)
			return nil, nil
		}).
		OnRetry(func(ctx gamefi.RetryContext) {
			reason := "unknown"
			if ctx.Error != nil && ctx.Error.Reason != "" {
				reason = ctx.Error.Reason
			}
			m.retries.WithLabelValues(string(ctx.Request.Operation), reason).Inc()
		})
}

func (m *Metrics) observeWrite(op gamefi.Operation, result string, attempts int, d time.Duration) {
	m.writesDone.WithLabelValues(string(op), result).Inc()
	m.writeDuration.WithLabelValues(string(op)).Observe(d.Seconds())
	if attempts > 0 {
		m.writeAttempts.WithLabelValues(string(op)).Observe(float64(attempts))
	}
}

// ============================================================================
// Read Cache
// ============================================================================

// InstrumentCache wraps c so lookups are counted as hit, miss or error.
// A nil cache stays nil.
func (m *Metrics) InstrumentCache(c gamefi.ReadCache) gamefi.ReadCache {
	if c == nil {
		return nil
	}
	return &instrumentedCache{ReadCache: c, requests: m.cacheRequests}
}

type instrumentedCache struct {
	gamefi.ReadCache
	requests *prometheus.CounterVec
}

func (c *instrumentedCache) Get(ctx context.Context, assetID uint64) (*gamefi.Asset, bool, error) {
	asset, ok, err := c.ReadCache.Get(ctx, assetID)
	switch {
	case err != nil:
		c.requests.WithLabelValues("error").Inc()
	case ok:
		c.requests.WithLabelValues("hit").Inc()
	default:
		c.requests.WithLabelValues("miss").Inc()
	}
	return asset, ok, err
}

// ============================================================================
// HTTP
// ============================================================================

// Middleware records request counts and latency per route template.
// Unmatched paths are grouped under "unmatched".
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
