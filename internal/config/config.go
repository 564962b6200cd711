// Package config provides centralized configuration management for shelver.
// Values are resolved from struct tag defaults, an optional TOML file, and
// environment variables, in that order, and validated on startup to fail fast
// on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Store      StoreConfig      `toml:"store"`
	Database   DatabaseConfig   `toml:"database"`
	Upload     UploadConfig     `toml:"upload"`
	Processing ProcessingConfig `toml:"processing"`
	Placement  PlacementConfig  `toml:"placement"`
	Enrichment EnrichmentConfig `toml:"enrichment"`
	Rate       RateLimitConfig  `toml:"rate"`
	Security   SecurityConfig   `toml:"security"`
	Logging    LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `toml:"host" env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `toml:"port" env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `toml:"read_timeout" env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing a response (default: 30s)
	WriteTimeout time.Duration `toml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `toml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including draining batch jobs (default: 30s)
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `toml:"request_timeout" env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory" (default: postgres)
	Driver string `toml:"driver" env:"STORE_DRIVER" default:"postgres"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string, required for the postgres driver.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility.
	URL string `toml:"url" env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `toml:"max_conns" env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `toml:"min_conns" env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `toml:"max_conn_lifetime" env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `toml:"max_conn_idle_time" env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig holds manifest and image intake settings.
type UploadConfig struct {
	// MaxFileSize is the maximum accepted request body in bytes (default: 50MB)
	MaxFileSize int64 `toml:"max_file_size" env:"UPLOAD_MAX_FILE_SIZE" default:"52428800"`

	// MaxRecords is the per-batch record cap (default: 1000)
	MaxRecords int `toml:"max_records" env:"UPLOAD_MAX_RECORDS" default:"1000"`

	// MaxImages is the maximum number of cover images per batch (default: 100)
	MaxImages int `toml:"max_images" env:"UPLOAD_MAX_IMAGES" default:"100"`

	// ImageDir is where matched cover images are written (default: ./data/images)
	ImageDir string `toml:"image_dir" env:"UPLOAD_IMAGE_DIR" default:"./data/images"`
}

// ProcessingConfig holds background batch processing settings.
type ProcessingConfig struct {
	// SubBatchSize is the number of records processed sequentially per unit of work (default: 10)
	SubBatchSize int `toml:"sub_batch_size" env:"PROCESSING_SUB_BATCH_SIZE" default:"10"`

	// Concurrency is the number of sub-batches in flight per batch (default: 3)
	Concurrency int `toml:"concurrency" env:"PROCESSING_CONCURRENCY" default:"3"`

	// MaxConcurrentBatches bounds how many batch jobs run at once (default: 5)
	MaxConcurrentBatches int `toml:"max_concurrent_batches" env:"PROCESSING_MAX_CONCURRENT_BATCHES" default:"5"`

	// MaxWaitTime is how long a job waits for a batch slot (default: 10m)
	MaxWaitTime time.Duration `toml:"max_wait_time" env:"PROCESSING_MAX_WAIT_TIME" default:"10m"`

	// BatchTimeout bounds a single batch job (default: 1h)
	BatchTimeout time.Duration `toml:"batch_timeout" env:"PROCESSING_BATCH_TIMEOUT" default:"1h"`
}

// PlacementConfig holds shelf capacity defaults.
type PlacementConfig struct {
	// DefaultSectionCapacity is the max_capacity of lazily created sections (default: 100)
	DefaultSectionCapacity int `toml:"default_section_capacity" env:"PLACEMENT_DEFAULT_SECTION_CAPACITY" default:"100"`

	// OverflowCapacity is the max_capacity of overflow sections (default: 200)
	OverflowCapacity int `toml:"overflow_capacity" env:"PLACEMENT_OVERFLOW_CAPACITY" default:"200"`

	// MaxSectionsPerShelf caps alphabetical shelf growth before overflow (default: 10)
	MaxSectionsPerShelf int `toml:"max_sections_per_shelf" env:"PLACEMENT_MAX_SECTIONS_PER_SHELF" default:"10"`

	// ReserveAttempts is how many decision rounds run before overflow_new after lost races (default: 3)
	ReserveAttempts int `toml:"reserve_attempts" env:"PLACEMENT_RESERVE_ATTEMPTS" default:"3"`
}

// EnrichmentConfig holds metadata provider chain settings.
type EnrichmentConfig struct {
	// Order is the provider fallback order (default: openlibrary,googlebooks,gemini,claude,openai)
	Order []string `toml:"order" env:"ENRICH_ORDER" default:"openlibrary,googlebooks,gemini,claude,openai"`

	// RetryAttempts is the number of calls per provider before giving up (default: 3)
	RetryAttempts int `toml:"retry_attempts" env:"ENRICH_RETRY_ATTEMPTS" default:"3"`

	// RetryBaseDelay is the first backoff step; later steps double it (default: 1s)
	RetryBaseDelay time.Duration `toml:"retry_base_delay" env:"ENRICH_RETRY_BASE_DELAY" default:"1s"`

	// LookupTimeout bounds each catalog API attempt (default: 5s)
	LookupTimeout time.Duration `toml:"lookup_timeout" env:"ENRICH_LOOKUP_TIMEOUT" default:"5s"`

	// AITimeout bounds each language model attempt (default: 15s)
	AITimeout time.Duration `toml:"ai_timeout" env:"ENRICH_AI_TIMEOUT" default:"15s"`

	// BreakerThreshold is the error rate that opens a provider breaker (default: 0.5)
	BreakerThreshold float64 `toml:"breaker_threshold" env:"ENRICH_BREAKER_THRESHOLD" default:"0.5"`

	// BreakerWindow is the rolling window for the error rate (default: 10s)
	BreakerWindow time.Duration `toml:"breaker_window" env:"ENRICH_BREAKER_WINDOW" default:"10s"`

	// BreakerBuckets is the number of buckets in the rolling window (default: 10)
	BreakerBuckets int `toml:"breaker_buckets" env:"ENRICH_BREAKER_BUCKETS" default:"10"`

	// BreakerMinRequests is the sample size needed before the breaker may open (default: 5)
	BreakerMinRequests int `toml:"breaker_min_requests" env:"ENRICH_BREAKER_MIN_REQUESTS" default:"5"`

	// BreakerResetTimeout is how long a breaker stays open before a trial call (default: 30s)
	BreakerResetTimeout time.Duration `toml:"breaker_reset_timeout" env:"ENRICH_BREAKER_RESET_TIMEOUT" default:"30s"`

	// CacheSize is the number of enrichment results kept in memory (default: 500)
	CacheSize int `toml:"cache_size" env:"ENRICH_CACHE_SIZE" default:"500"`

	// CacheTTL is how long a cached result stays valid (default: 1h)
	CacheTTL time.Duration `toml:"cache_ttl" env:"ENRICH_CACHE_TTL" default:"1h"`

	OpenLibrary ProviderConfig `toml:"openlibrary" envPrefix:"OPENLIBRARY"`
	GoogleBooks ProviderConfig `toml:"googlebooks" envPrefix:"GOOGLEBOOKS"`
	Gemini      ProviderConfig `toml:"gemini" envPrefix:"GEMINI"`
	Claude      ProviderConfig `toml:"claude" envPrefix:"CLAUDE"`
	OpenAI      ProviderConfig `toml:"openai" envPrefix:"OPENAI"`
}

// ProviderConfig holds settings shared by every enrichment provider.
// Env names are the parent's envPrefix joined to each tag, e.g. GEMINI_API_KEY.
type ProviderConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED" default:"true"`
	APIKey  string `toml:"api_key" env:"API_KEY"`
	Model   string `toml:"model" env:"MODEL"`
	BaseURL string `toml:"base_url" env:"BASE_URL"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `toml:"enabled" env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `toml:"requests_per_minute" env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for batch submissions (default: 10)
	UploadLimit int `toml:"upload_limit" env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `toml:"trusted_proxies" env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `toml:"enable_csp" env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey rejects /api requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `toml:"require_api_key" env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `toml:"api_keys" env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `toml:"level" env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text, json, or auto (default: auto)
	Format string `toml:"format" env:"LOG_FORMAT" default:"auto"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Provider returns the settings block for a provider kind name.
func (c *EnrichmentConfig) Provider(kind string) (ProviderConfig, bool) {
	switch kind {
	case "openlibrary":
		return c.OpenLibrary, true
	case "googlebooks":
		return c.GoogleBooks, true
	case "gemini":
		return c.Gemini, true
	case "claude":
		return c.Claude, true
	case "openai":
		return c.OpenAI, true
	}
	return ProviderConfig{}, false
}
