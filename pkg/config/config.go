// Package config loads gateway settings from the environment.
//
// Values are resolved in this order, first match wins:
//
//  1. the process environment
//  2. a .env file in the working directory
//  3. the YAML file named by CONFIG_FILE (flat KEY: value pairs)
//  4. the defaults declared on Config
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// Environments accepted in NODE_ENV
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Backends accepted in STORE_BACKEND and CACHE_BACKEND
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

var (
	privateKeyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	addressPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Config holds every gateway setting
type Config struct {
	Port    int    `env:"PORT,default=5000"`
	NodeEnv string `env:"NODE_ENV,default=development"`

	// Ledger
	RPCURL          string `env:"RPC_URL"`
	PrivateKey      string `env:"PRIVATE_KEY"`
	ContractAddress string `env:"CONTRACT_ADDRESS"`
	ChainID         int64  `env:"CHAIN_ID"`
	MaxGasLimit     uint64 `env:"MAX_GAS_LIMIT,default=6000000"`

	// Write path
	MaxRetries           int           `env:"MAX_RETRIES,default=3"`
	RetryBaseDelay       time.Duration `env:"RETRY_BASE_DELAY,default=1s"`
	RetryMaxDelay        time.Duration `env:"RETRY_MAX_DELAY,default=10s"`
	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT,default=10s"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=2m"`
	IdempotencyRetention time.Duration `env:"IDEMPOTENCY_RETENTION,default=24h"`
	PruneSchedule        string        `env:"PRUNE_SCHEDULE,default=@every 1h"`

	// Backends
	StoreBackend  string        `env:"STORE_BACKEND,default=memory"`
	CacheBackend  string        `env:"CACHE_BACKEND,default=memory"`
	CacheTTL      time.Duration `env:"CACHE_TTL,default=5m"`
	CacheSize     int           `env:"CACHE_SIZE,default=1000"`
	RedisAddr     string        `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0"`
	DatabaseURL   string        `env:"DATABASE_URL"`

	// HTTP surface
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS,default=100"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW,default=15m"`
	JWTSecret         string        `env:"JWT_SECRET"`
	MCPEnabled        bool          `env:"MCP_ENABLED,default=false"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
}

// Load resolves the configuration and validates it
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile exports the file's keys that the environment leaves unset
func applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]interface{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	for key, value := range values {
		key = strings.ToUpper(key)
		if os.Getenv(key) != "" || value == nil {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(value)); err != nil {
			return fmt.Errorf("failed to export %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks the settings the gateway cannot start without
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.NodeEnv {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		add("NODE_ENV must be one of development, production, test")
	}
	if c.Port <= 0 || c.Port > 65535 {
		add("PORT must be between 1 and 65535")
	}
	if c.RPCURL == "" {
		add("RPC_URL is required")
	}
	if !privateKeyPattern.MatchString(c.PrivateKey) {
		add("PRIVATE_KEY must be a 0x-prefixed 32-byte hex string")
	}
	if !addressPattern.MatchString(c.ContractAddress) {
		add("CONTRACT_ADDRESS must be a 0x-prefixed 20-byte hex string")
	}
	// Without a secret the caller address comes from a plain header
	if c.NodeEnv == EnvProduction && c.JWTSecret == "" {
		add("JWT_SECRET is required in production")
	}
	if c.MaxRetries < 1 {
		add("MAX_RETRIES must be at least 1")
	}
	if c.RequestTimeout <= 0 || c.WriteTimeout <= 0 {
		add("REQUEST_TIMEOUT and WRITE_TIMEOUT must be positive")
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			add("REDIS_ADDR is required for the redis store")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required for the postgres store")
		}
	default:
		add("STORE_BACKEND must be one of memory, redis, postgres")
	}

	switch c.CacheBackend {
	case BackendMemory, BackendRedis:
	default:
		add("CACHE_BACKEND must be one of memory, redis")
	}
	if c.CacheSize <= 0 {
		add("CACHE_SIZE must be positive")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		add("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsProduction reports whether NODE_ENV is production
func (c *Config) IsProduction() bool {
	return c.NodeEnv == EnvProduction
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RetryPolicy builds the gateway retry policy
func (c *Config) RetryPolicy() gamefi.RetryPolicy {
	return gamefi.RetryPolicy{
		MaxAttempts:       c.MaxRetries,
		InitialBackoff:    c.RetryBaseDelay,
		MaxBackoff:        c.RetryMaxDelay,
		BackoffMultiplier: 2.0,
	}
}
