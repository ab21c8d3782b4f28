package idempotency

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Default settings shared by the stores and the pruner
const (
	DefaultRetention = 24 * time.Hour
	DefaultKeyPrefix = "gamefi:write:"
	DefaultSchedule  = "@every 1h"
)

// config holds the configuration for stores and pruners.
type config struct {
	retention time.Duration
	keyPrefix string
	schedule  string
	logger    logrus.FieldLogger
	now       func() time.Time
}

func newConfig(opts []Option) *config {
	cfg := &config{
		retention: DefaultRetention,
		keyPrefix: DefaultKeyPrefix,
		schedule:  DefaultSchedule,
		logger:    logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures a store or pruner.
type Option func(*config)

// WithRetention sets how long terminal records are kept.
//
// Default: 24 hours
func WithRetention(retention time.Duration) Option {
	return func(c *config) {
		if retention > 0 {
			c.retention = retention
		}
	}
}

// WithKeyPrefix sets the Redis key prefix.
//
// Default: "gamefi:write:"
func WithKeyPrefix(prefix string) Option {
	return func(c *config) {
		c.keyPrefix = prefix
	}
}

// WithSchedule sets the pruner's cron schedule.
//
// Default: "@every 1h"
func WithSchedule(spec string) Option {
	return func(c *config) {
		if spec != "" {
			c.schedule = spec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock sets the time source used for retention cut-offs.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}
