// Package config provides environment-based configuration loading for
// the gateway process.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every configuration value the gateway needs at startup.
// No field is required: every value either has a production-sane
// default or may be left empty.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"apigatewaycore"`
	Env         string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Admin HTTP surface.
	AdminPort         int    `envconfig:"ADMIN_PORT" default:"8081"`
	AdminBindAddress  string `envconfig:"ADMIN_BIND_ADDRESS" default:"127.0.0.1"`
	ProblemBaseURL    string `envconfig:"PROBLEM_BASE_URL" default:"https://gateway.example.com/problems/"`
	AdminRateLimitRPS int    `envconfig:"ADMIN_RATE_LIMIT_RPS" default:"100"`

	// OpenTelemetry.
	OTELEnabled          bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELExporterEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELExporterInsecure bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`

	// Circuit breaker settings (component 1). Every provider's breaker
	// is created with these values; registration takes no per-provider
	// breaker overrides.
	CBMaxRequests      int           `envconfig:"CB_MAX_REQUESTS" default:"1"`
	CBInterval         time.Duration `envconfig:"CB_INTERVAL" default:"60s"`
	CBOpenDuration     time.Duration `envconfig:"CB_OPEN_DURATION" default:"30s"`
	CBFailureThreshold int           `envconfig:"CB_FAILURE_THRESHOLD" default:"5"`
	CBSuccessThreshold int           `envconfig:"CB_SUCCESS_THRESHOLD" default:"2"`

	// Multi-level cache (component 2).
	CacheMemoryMaxItems int           `envconfig:"CACHE_MEMORY_MAX_ITEMS" default:"10000"`
	CacheMemoryMaxBytes int64         `envconfig:"CACHE_MEMORY_MAX_BYTES" default:"67108864"`
	CacheDefaultTTL     time.Duration `envconfig:"CACHE_DEFAULT_TTL" default:"5m"`
	CacheMinTTL         time.Duration `envconfig:"CACHE_MIN_TTL" default:"10s"`
	CacheMaxTTL         time.Duration `envconfig:"CACHE_MAX_TTL" default:"1h"`
	CacheSweepInterval  time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"30s"`
	CacheSQLitePath     string        `envconfig:"CACHE_SQLITE_PATH" default:"gateway_cache.db"`
	CacheRedisEnabled   bool          `envconfig:"CACHE_REDIS_ENABLED" default:"false"`
	CacheRedisAddr      string        `envconfig:"CACHE_REDIS_ADDR" default:"localhost:6379"`
	CacheRedisDB        int           `envconfig:"CACHE_REDIS_DB" default:"0"`
	CacheNamespace      string        `envconfig:"CACHE_NAMESPACE" default:"gateway"`

	// Load balancer (component 3).
	BalancerStrategy         string        `envconfig:"BALANCER_STRATEGY" default:"round_robin"`
	BalancerHealthInterval   time.Duration `envconfig:"BALANCER_HEALTH_INTERVAL" default:"15s"`
	BalancerFailureThresh    int           `envconfig:"BALANCER_FAILURE_THRESHOLD" default:"3"`
	BalancerRecoveryThresh   int           `envconfig:"BALANCER_RECOVERY_THRESHOLD" default:"2"`
	BalancerLatencyEWMAAlpha float64       `envconfig:"BALANCER_LATENCY_EWMA_ALPHA" default:"0.2"`

	// Middleware pipeline (component 4).
	RateLimitRequestsPerMinute int  `envconfig:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"60"`
	RateLimitBurstSize         int  `envconfig:"RATE_LIMIT_BURST_SIZE" default:"10"`
	MiddlewareDebug            bool `envconfig:"MIDDLEWARE_DEBUG" default:"false"`

	// Gateway orchestrator (component 5).
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"100ms"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"5s"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`

	// Event bus (component 6).
	EventHistorySize   int    `envconfig:"EVENT_HISTORY_SIZE" default:"500"`
	EventQueueSize     int    `envconfig:"EVENT_QUEUE_SIZE" default:"1000"`
	EventStoreEnabled  bool   `envconfig:"EVENT_STORE_ENABLED" default:"false"`
	EventStorePath     string `envconfig:"EVENT_STORE_PATH" default:"gateway_events.jsonl"`
	EventStoreMaxItems int    `envconfig:"EVENT_STORE_MAX_ITEMS" default:"10000"`

	// Shutdown.
	ShutdownDrainPeriod time.Duration `envconfig:"SHUTDOWN_DRAIN_PERIOD" default:"30s"`
	ShutdownGracePeriod time.Duration `envconfig:"SHUTDOWN_GRACE_PERIOD" default:"5s"`

	// ProvidersConfigPath optionally points at a JSON file of upstream
	// providers to register at startup, grounded in the original's
	// `setup_default_providers`. Empty means no providers are
	// preregistered. The admin API has no route that registers a
	// provider.
	ProvidersConfigPath string `envconfig:"PROVIDERS_CONFIG_PATH"`
}

// Load reads configuration from the environment with the "GATEWAY"
// prefix (e.g. GATEWAY_SERVICE_NAME).
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("gateway", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks invariants that envconfig's struct tags cannot
// express on their own.
func (c *Config) Validate() error {
	if c.CBFailureThreshold < 1 {
		return fmt.Errorf("cb_failure_threshold must be >= 1, got %d", c.CBFailureThreshold)
	}
	if c.CBOpenDuration <= 0 {
		return fmt.Errorf("cb_open_duration must be > 0, got %s", c.CBOpenDuration)
	}
	if c.CacheMemoryMaxItems < 1 {
		return fmt.Errorf("cache_memory_max_items must be >= 1, got %d", c.CacheMemoryMaxItems)
	}
	if c.CacheMinTTL > 0 && c.CacheMaxTTL > 0 && c.CacheMinTTL > c.CacheMaxTTL {
		return fmt.Errorf("cache_min_ttl (%s) must be <= cache_max_ttl (%s)", c.CacheMinTTL, c.CacheMaxTTL)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry_max_attempts must be >= 1, got %d", c.RetryMaxAttempts)
	}
	switch c.BalancerStrategy {
	case "round_robin", "weighted", "least_connections", "latency_based", "failover", "random":
	default:
		return fmt.Errorf("balancer_strategy %q is not one of round_robin|weighted|least_connections|latency_based|failover|random", c.BalancerStrategy)
	}
	return nil
}
