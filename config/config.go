package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one upstream data source and its token bucket.
type ProviderConfig struct {
	Name           string        `yaml:"name"`
	BaseURL        string        `yaml:"base_url"`
	Class          string        `yaml:"class"`
	Capacity       int           `yaml:"capacity"`
	RefillInterval time.Duration `yaml:"refill_interval"`
	Enabled        bool          `yaml:"enabled"`
}

// RefillIntervalMs is the refill interval in milliseconds.
func (p ProviderConfig) RefillIntervalMs() int64 {
	return p.RefillInterval.Milliseconds()
}

// Config holds all app configuration
type Config struct {
	Env string

	// Server
	HTTPPort string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kafka. No brokers selects the in-process queue.
	KafkaBrokers       []string
	KafkaTopic         string
	KafkaConsumerGroup string

	// Workers
	WorkerConcurrency int
	JobMaxAttempts    int
	JobBackoffBase    time.Duration

	// Refresh cycle
	RefreshInterval time.Duration
	DefaultQueries  []string

	CacheTTLSeconds int
	BaselineTTL     time.Duration
	RetryMarkerTTL  time.Duration

	// Providers
	ProviderTimeout    time.Duration
	ProviderMaxRetries int
	ProvidersFile      string
	CoinGeckoAPIKey    string
	Providers          []ProviderConfig
}

// DefaultProviders returns the built-in provider registry. Capacity is the
// per-minute quota; one token refills every minute/capacity.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		perMinute("dexscreener", "dex", 300),
		perMinute("jupiter", "dex", 600),
		perMinute("coingecko", "aggregator", 60),
	}
}

func perMinute(name, class string, n int) ProviderConfig {
	return ProviderConfig{
		Name:           name,
		Class:          class,
		Capacity:       n,
		RefillInterval: time.Minute / time.Duration(n),
		Enabled:        true,
	}
}

// LoadConfig loads configuration from environment variables, with optional .env file
func LoadConfig() (*Config, error) {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		Env: getEnv("APP_ENV", "local"),

		// Server
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Kafka
		KafkaBrokers:       getEnvAsSlice("KAFKA_BROKERS", nil, ","),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "token-refresh"),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "token-aggregator"),

		// Workers
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 5),
		JobMaxAttempts:    getEnvAsInt("JOB_MAX_ATTEMPTS", 5),
		JobBackoffBase:    time.Duration(getEnvAsInt("JOB_BACKOFF_BASE_MS", 1000)) * time.Millisecond,

		// Refresh cycle
		RefreshInterval: time.Duration(getEnvAsInt("REFRESH_INTERVAL_SEC", 15)) * time.Second,
		DefaultQueries:  getEnvAsSlice("DEFAULT_QUERIES", []string{"sol"}, ","),

		CacheTTLSeconds: getEnvAsInt("CACHE_TTL_SEC", 30),
		BaselineTTL:     time.Duration(getEnvAsInt("BASELINE_TTL_SEC", 3600)) * time.Second,
		RetryMarkerTTL:  time.Duration(getEnvAsInt("RETRY_MARKER_TTL_SEC", 5)) * time.Second,

		// Providers
		ProviderTimeout:    time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_MS", 15000)) * time.Millisecond,
		ProviderMaxRetries: getEnvAsInt("PROVIDER_MAX_RETRIES", 4),
		ProvidersFile:      getEnv("PROVIDERS_FILE", ""),
		CoinGeckoAPIKey:    getEnv("COINGECKO_API_KEY", getEnv("CG_API_KEY", "")),
		Providers:          DefaultProviders(),
	}

	if cfg.ProvidersFile != "" {
		overrides, err := LoadProviders(cfg.ProvidersFile)
		if err != nil {
			return nil, err
		}
		cfg.Providers = MergeProviders(cfg.Providers, overrides)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadProviders reads a YAML provider registry.
func LoadProviders(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return ParseProviders(data)
}

// ParseProviders decodes a YAML provider registry. Entries default to
// enabled unless the document says otherwise.
func ParseProviders(data []byte) ([]ProviderConfig, error) {
	var raw struct {
		Providers []struct {
			Name           string        `yaml:"name"`
			BaseURL        string        `yaml:"base_url"`
			Class          string        `yaml:"class"`
			Capacity       int           `yaml:"capacity"`
			RefillInterval time.Duration `yaml:"refill_interval"`
			Enabled        *bool         `yaml:"enabled"`
		} `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	out := make([]ProviderConfig, 0, len(raw.Providers))
	for _, p := range raw.Providers {
		enabled := true
		if p.Enabled != nil {
			enabled = *p.Enabled
		}
		out = append(out, ProviderConfig{
			Name:           strings.ToLower(strings.TrimSpace(p.Name)),
			BaseURL:        p.BaseURL,
			Class:          p.Class,
			Capacity:       p.Capacity,
			RefillInterval: p.RefillInterval,
			Enabled:        enabled,
		})
	}
	return out, nil
}

// MergeProviders replaces base entries by name and appends unknown ones.
// Zero fields in an override keep the base value.
func MergeProviders(base, overrides []ProviderConfig) []ProviderConfig {
	out := make([]ProviderConfig, len(base))
	copy(out, base)

	for _, o := range overrides {
		idx := -1
		for i := range out {
			if out[i].Name == o.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, o)
			continue
		}
		cur := &out[idx]
		if o.BaseURL != "" {
			cur.BaseURL = o.BaseURL
		}
		if o.Class != "" {
			cur.Class = o.Class
		}
		if o.Capacity != 0 {
			cur.Capacity = o.Capacity
		}
		if o.RefillInterval != 0 {
			cur.RefillInterval = o.RefillInterval
		}
		cur.Enabled = o.Enabled
	}
	return out
}

// EnabledProviders returns the enabled entries in registry order.
func (c *Config) EnabledProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// UsesKafka reports whether refresh jobs go through a broker.
func (c *Config) UsesKafka() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return errors.New("http port is required")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.WorkerConcurrency)
	}
	if c.JobMaxAttempts <= 0 {
		return fmt.Errorf("job max attempts must be positive, got %d", c.JobMaxAttempts)
	}
	if c.RefreshInterval <= 0 {
		return errors.New("refresh interval must be positive")
	}
	if c.UsesKafka() && c.KafkaTopic == "" {
		return errors.New("kafka topic is required when brokers are set")
	}

	for _, p := range c.Providers {
		if p.Name == "" {
			return errors.New("provider name is required")
		}
		if !p.Enabled {
			continue
		}
		if p.Capacity <= 0 {
			return fmt.Errorf("provider %s: capacity must be positive, got %d", p.Name, p.Capacity)
		}
		if p.RefillInterval <= 0 {
			return fmt.Errorf("provider %s: refill interval must be positive", p.Name)
		}
		switch p.Class {
		case "dex", "aggregator", "other":
		default:
			return fmt.Errorf("provider %s: unknown class %q", p.Name, p.Class)
		}
	}
	return nil
}

// Helper functions for parsing environment variables
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string, sep string) []string {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(valStr, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
