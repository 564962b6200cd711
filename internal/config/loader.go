package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
)

// ConfigFileEnv names the environment variable holding an optional TOML file path.
const ConfigFileEnv = "SHELVER_CONFIG"

// Load reads configuration from defaults, the optional TOML file named by
// SHELVER_CONFIG, and environment variables, then validates the result.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigFileEnv))
}

// LoadFile is Load with an explicit config file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	tree := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("config load: parse %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem(), "", tree); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields. For each field the
// environment wins over the file, and the file wins over the default tag.
func loadStruct(v reflect.Value, prefix string, tree map[string]any) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		key := field.Tag.Get("toml")

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			sub, _ := tree[key].(map[string]any)
			childPrefix := prefix
			if p := field.Tag.Get("envPrefix"); p != "" {
				childPrefix = p + "_"
			}
			if err := loadStruct(fieldVal, childPrefix, sub); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		envName = prefix + envName
		envAlt := field.Tag.Get("envAlt")
		required := field.Tag.Get("required") == "true"

		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}
		if value == "" {
			value = fileValue(tree, key)
		}
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// fileValue renders a decoded TOML value in the same string form the
// environment uses, so both sources share setField.
func fileValue(tree map[string]any, key string) string {
	if tree == nil || key == "" {
		return ""
	}
	raw, ok := tree[key]
	if !ok || raw == nil {
		return ""
	}
	switch val := raw.(type) {
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

var knownProviders = map[string]bool{
	"openlibrary": true, "googlebooks": true, "gemini": true, "claude": true, "openai": true,
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	// Store validation
	switch strings.ToLower(c.Store.Driver) {
	case DriverPostgres:
		if c.Database.URL == "" {
			add("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case DriverMemory:
	default:
		add("STORE_DRIVER (%q) must be one of: postgres, memory", c.Store.Driver)
	}
	if c.Database.MaxConns < c.Database.MinConns {
		add("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
	}
	if c.Database.MaxConns <= 0 {
		add("DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		add("DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		add("SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Upload validation
	if c.Upload.MaxFileSize <= 0 {
		add("UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.MaxRecords <= 0 {
		add("UPLOAD_MAX_RECORDS must be positive")
	}
	if c.Upload.MaxImages < 0 {
		add("UPLOAD_MAX_IMAGES must be non-negative")
	}

	// Processing validation
	if c.Processing.SubBatchSize <= 0 {
		add("PROCESSING_SUB_BATCH_SIZE must be positive")
	}
	if c.Processing.Concurrency <= 0 {
		add("PROCESSING_CONCURRENCY must be positive")
	}
	if c.Processing.MaxConcurrentBatches <= 0 {
		add("PROCESSING_MAX_CONCURRENT_BATCHES must be positive")
	}
	if c.Processing.MaxWaitTime <= 0 {
		add("PROCESSING_MAX_WAIT_TIME must be positive")
	}
	if c.Processing.BatchTimeout <= 0 {
		add("PROCESSING_BATCH_TIMEOUT must be positive")
	}

	// Placement validation
	if c.Placement.DefaultSectionCapacity <= 0 {
		add("PLACEMENT_DEFAULT_SECTION_CAPACITY must be positive")
	}
	if c.Placement.OverflowCapacity <= 0 {
		add("PLACEMENT_OVERFLOW_CAPACITY must be positive")
	}
	if c.Placement.MaxSectionsPerShelf <= 0 {
		add("PLACEMENT_MAX_SECTIONS_PER_SHELF must be positive")
	}
	if c.Placement.ReserveAttempts <= 0 {
		add("PLACEMENT_RESERVE_ATTEMPTS must be positive")
	}

	// Enrichment validation
	seen := make(map[string]bool, len(c.Enrichment.Order))
	for _, name := range c.Enrichment.Order {
		kind := strings.ToLower(name)
		if !knownProviders[kind] {
			add("ENRICH_ORDER contains unknown provider %q", name)
			continue
		}
		if seen[kind] {
			add("ENRICH_ORDER lists provider %q more than once", name)
		}
		seen[kind] = true
	}
	if c.Enrichment.RetryAttempts <= 0 {
		add("ENRICH_RETRY_ATTEMPTS must be positive")
	}
	if c.Enrichment.RetryBaseDelay < 0 {
		add("ENRICH_RETRY_BASE_DELAY must be non-negative")
	}
	if c.Enrichment.LookupTimeout <= 0 || c.Enrichment.AITimeout <= 0 {
		add("ENRICH_LOOKUP_TIMEOUT and ENRICH_AI_TIMEOUT must be positive")
	}
	if c.Enrichment.BreakerThreshold <= 0 || c.Enrichment.BreakerThreshold > 1 {
		add("ENRICH_BREAKER_THRESHOLD (%v) must be in (0, 1]", c.Enrichment.BreakerThreshold)
	}
	if c.Enrichment.BreakerWindow <= 0 || c.Enrichment.BreakerBuckets <= 0 {
		add("ENRICH_BREAKER_WINDOW and ENRICH_BREAKER_BUCKETS must be positive")
	}
	if c.Enrichment.BreakerResetTimeout <= 0 {
		add("ENRICH_BREAKER_RESET_TIMEOUT must be positive")
	}
	if c.Enrichment.CacheSize < 0 {
		add("ENRICH_CACHE_SIZE must be non-negative")
	}

	// Rate limit validation
	if c.Rate.Enabled && (c.Rate.RequestsPerMinute <= 0 || c.Rate.UploadLimit <= 0) {
		add("RATE_LIMIT_REQUESTS_PER_MINUTE and RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		add("REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true, "auto": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		add("LOG_FORMAT (%q) must be one of: text, json, auto", c.Logging.Format)
	}

	if result == nil {
		return nil
	}
	result.ErrorFormat = func(errs []error) string {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return "validation failed:\n  - " + strings.Join(msgs, "\n  - ")
	}
	return result
}

// ValidationErrors unwraps the individual problems reported by Validate.
func ValidationErrors(err error) []error {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		return merr.Errors
	}
	if err == nil {
		return nil
	}
	return []error{err}
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Store: %q, ", c.Store.Driver))
	b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Upload: {MaxFileSize: %d, MaxRecords: %d}, ",
		c.Upload.MaxFileSize, c.Upload.MaxRecords))
	b.WriteString(fmt.Sprintf("Processing: {SubBatchSize: %d, Concurrency: %d, MaxConcurrentBatches: %d}, ",
		c.Processing.SubBatchSize, c.Processing.Concurrency, c.Processing.MaxConcurrentBatches))
	b.WriteString(fmt.Sprintf("Enrichment: {Order: %v, RetryAttempts: %d}, ",
		c.Enrichment.Order, c.Enrichment.RetryAttempts))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
