package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	pkgconfig "github.com/tophergates/mws-restaurant-reviews/pkg/config"
)

// Store and cache storage backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all configuration for the restaurant reviews server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort           int      `env:"HTTP_PORT" envDefault:"8000"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	PprofAllowedCIDRs  []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	// Restaurant API. API_BASE_URL wins over API_HOST and API_PORT; with
	// neither set every API call fails with a configuration error.
	APIBaseURL string        `env:"API_BASE_URL"`
	APIHost    string        `env:"API_HOST" envDefault:"localhost"`
	APIPort    int           `env:"API_PORT" envDefault:"1337"`
	APITimeout time.Duration `env:"API_TIMEOUT" envDefault:"10s"`

	APIBreakerMaxRequests  uint32        `env:"API_BREAKER_MAX_REQUESTS" envDefault:"1"`
	APIBreakerInterval     time.Duration `env:"API_BREAKER_INTERVAL" envDefault:"30s"`
	APIBreakerTimeout      time.Duration `env:"API_BREAKER_TIMEOUT" envDefault:"10s"`
	APIBreakerFailureRatio float64       `env:"API_BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	APIBreakerMinRequests  uint32        `env:"API_BREAKER_MIN_REQUESTS" envDefault:"5"`

	// Links handed to the UI. Empty means relative links.
	ClientBaseURL  string `env:"CLIENT_BASE_URL"`
	MaxReviewScore int    `env:"MAX_REVIEW_SCORE" envDefault:"5"`

	// Persistent store
	StoreBackend   string `env:"STORE_BACKEND" envDefault:"redis"`
	StoreNamespace string `env:"STORE_NAMESPACE" envDefault:"restaurant-reviews"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"16"`

	// Storage operations slower than this are logged. 0 disables it.
	SlowOpThreshold time.Duration `env:"SLOW_OP_THRESHOLD" envDefault:"100ms"`

	// Pending review queue
	PendingFlushPolicy        string        `env:"PENDING_FLUSH_POLICY" envDefault:"requeue"`
	PendingFlushConcurrency   int           `env:"PENDING_FLUSH_CONCURRENCY" envDefault:"4"`
	ConnectivityProbeInterval time.Duration `env:"CONNECTIVITY_PROBE_INTERVAL" envDefault:"15s"`

	// Cache proxy. CACHE_BACKEND defaults to the store backend.
	CacheEnabled           bool     `env:"CACHE_ENABLED" envDefault:"true"`
	CacheOrigin            string   `env:"CACHE_ORIGIN" envDefault:"http://localhost:8080"`
	CacheBackend           string   `env:"CACHE_BACKEND"`
	CacheRedisDB           int      `env:"CACHE_REDIS_DB" envDefault:"1"`
	CacheNamespace         string   `env:"CACHE_NAMESPACE" envDefault:"restaurant-reviews-cache"`
	CachePrefix            string   `env:"CACHE_PREFIX" envDefault:"restaurant-reviews"`
	CacheVersion           string   `env:"CACHE_VERSION" envDefault:"v1"`
	CacheManifest          []string `env:"CACHE_MANIFEST" envSeparator:","`
	CacheRuntimeMaxEntries int      `env:"CACHE_RUNTIME_MAX_ENTRIES" envDefault:"50"`
	CacheOfflinePage       string   `env:"CACHE_OFFLINE_PAGE"`
	CacheIgnoreSearch      bool     `env:"CACHE_IGNORE_SEARCH" envDefault:"true"`
	CacheMaxEntryBytes     int64    `env:"CACHE_MAX_ENTRY_BYTES" envDefault:"10485760"`

	// Rate limiting of the JSON API
	RateLimitRPS   int `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load restaurant reviews config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// APIURL returns the restaurant API base URL, or "" when none is configured.
func (c *Config) APIURL() string {
	if c.APIBaseURL != "" {
		return c.APIBaseURL
	}
	if c.APIHost == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", c.APIHost, c.APIPort)
}

// CacheStorageBackend returns the backend holding proxy caches.
func (c *Config) CacheStorageBackend() string {
	if c.CacheBackend == "" {
		return c.StoreBackend
	}
	return c.CacheBackend
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if api := c.APIURL(); api != "" {
		if u, err := url.Parse(api); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid API URL %q", api)
		}
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive")
	}
	if c.APIBreakerFailureRatio <= 0 || c.APIBreakerFailureRatio > 1 {
		return fmt.Errorf("API_BREAKER_FAILURE_RATIO must be in (0, 1]")
	}
	if c.MaxReviewScore < 1 {
		return fmt.Errorf("MAX_REVIEW_SCORE must be at least 1")
	}

	backends := []string{BackendRedis, BackendMemory}
	if !slices.Contains(backends, c.StoreBackend) {
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if !slices.Contains(backends, c.CacheStorageBackend()) {
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.RedisPort < 1 || c.RedisPort > 65535 {
		return fmt.Errorf("invalid REDIS_PORT: %d", c.RedisPort)
	}

	if c.PendingFlushPolicy != "requeue" && c.PendingFlushPolicy != "drop" {
		return fmt.Errorf("PENDING_FLUSH_POLICY must be requeue or drop, got %q", c.PendingFlushPolicy)
	}
	if c.PendingFlushConcurrency < 1 {
		return fmt.Errorf("PENDING_FLUSH_CONCURRENCY must be at least 1")
	}
	if c.ConnectivityProbeInterval <= 0 {
		return fmt.Errorf("CONNECTIVITY_PROBE_INTERVAL must be positive")
	}

	if c.CacheEnabled {
		if u, err := url.Parse(c.CacheOrigin); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid CACHE_ORIGIN %q", c.CacheOrigin)
		}
		if c.CacheRuntimeMaxEntries < 0 {
			return fmt.Errorf("CACHE_RUNTIME_MAX_ENTRIES must not be negative")
		}
	}

	if c.RateLimitRPS < 1 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %v", c.OTELSampleRate)
	}
	return nil
}
