package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	MySQL       MySQLConfig       `yaml:"mysql"`
	Redis       RedisConfig       `yaml:"redis"`
	BloomFilter BloomFilterConfig `yaml:"bloom_filter"`
	Snowflake   SnowflakeConfig   `yaml:"snowflake"`
	Link        LinkConfig        `yaml:"link"`
	Workers     WorkersConfig     `yaml:"workers"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port            int    `yaml:"port"`
	Mode            string `yaml:"mode"`
	BaseURL         string `yaml:"base_url"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_seconds"`
}

// MySQLConfig represents MySQL configuration
type MySQLConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// BloomFilterConfig represents Bloom filter configuration
type BloomFilterConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Capacity          uint    `yaml:"capacity"`
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
}

// SnowflakeConfig represents Snowflake ID generator configuration
type SnowflakeConfig struct {
	DatacenterID int64 `yaml:"datacenter_id"`
	WorkerID     int64 `yaml:"worker_id"`
}

// LinkConfig holds the knobs of the redirect path and link creation.
type LinkConfig struct {
	// PopularThreshold is the click count at which a link is promoted into Redis.
	PopularThreshold int64 `yaml:"popular_threshold"`
	// CacheTTLSeconds is the TTL of cache writes that are not promotions.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	AliasMinLength  int `yaml:"alias_min_length"`
	AliasMaxLength  int `yaml:"alias_max_length"`
}

// WorkersConfig holds the schedule of the background jobs.
type WorkersConfig struct {
	ReconcileInterval int `yaml:"reconcile_interval_seconds"`
	SweepInterval     int `yaml:"sweep_interval_seconds"`
	ClickBatchSize    int `yaml:"click_batch_size"`
	ShutdownGrace     int `yaml:"shutdown_grace_seconds"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	Strategy  string               `yaml:"strategy"`
	Global    RateLimitRule        `yaml:"global"`
	Endpoints []EndpointRateLimits `yaml:"endpoints"`
}

// RateLimitRule is a request budget per window (seconds).
type RateLimitRule struct {
	Limit  int `yaml:"limit"`
	Window int `yaml:"window"`
}

// EndpointRateLimits overrides the budget of a single route.
type EndpointRateLimits struct {
	Path   string `yaml:"path"`
	Limit  int    `yaml:"limit"`
	Window int    `yaml:"window"`
}

// LogConfig represents logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DSN returns MySQL data source name
func (m *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		m.Username, m.Password, m.Host, m.Port, m.Database)
}

// Addr returns Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// CacheTTL returns the default TTL for non-promoted cache writes.
func (l *LinkConfig) CacheTTL() time.Duration {
	return time.Duration(l.CacheTTLSeconds) * time.Second
}

func (w *WorkersConfig) ReconcileEvery() time.Duration {
	return time.Duration(w.ReconcileInterval) * time.Second
}

func (w *WorkersConfig) SweepEvery() time.Duration {
	return time.Duration(w.SweepInterval) * time.Second
}

func (w *WorkersConfig) Grace() time.Duration {
	return time.Duration(w.ShutdownGrace) * time.Second
}

// Load loads configuration from file. A .env file next to the binary, if
// present, is loaded into the environment first.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if host := os.Getenv("MYSQL_HOST"); host != "" {
		c.MySQL.Host = host
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		c.Redis.Host = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if err := envInt64("POPULAR_THRESHOLD", &c.Link.PopularThreshold); err != nil {
		return err
	}
	for key, target := range map[string]*int{
		"CACHE_TTL_SECONDS":          &c.Link.CacheTTLSeconds,
		"RECONCILE_INTERVAL_SECONDS": &c.Workers.ReconcileInterval,
		"SWEEP_INTERVAL_SECONDS":     &c.Workers.SweepInterval,
	} {
		if err := envInt(key, target); err != nil {
			return err
		}
	}
	return nil
}

func envInt(key string, target *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	*target = n
	return nil
}

func envInt64(key string, target *int64) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	*target = n
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5
	}
	if c.BloomFilter.Capacity == 0 {
		c.BloomFilter.Capacity = 1_000_000
	}
	if c.BloomFilter.FalsePositiveRate == 0 {
		c.BloomFilter.FalsePositiveRate = 0.01
	}
	if c.Link.PopularThreshold == 0 {
		c.Link.PopularThreshold = 10
	}
	if c.Link.CacheTTLSeconds == 0 {
		c.Link.CacheTTLSeconds = 3600
	}
	if c.Link.AliasMinLength == 0 {
		c.Link.AliasMinLength = 3
	}
	if c.Link.AliasMaxLength == 0 {
		c.Link.AliasMaxLength = 20
	}
	if c.Workers.ReconcileInterval == 0 {
		c.Workers.ReconcileInterval = 30
	}
	if c.Workers.SweepInterval == 0 {
		c.Workers.SweepInterval = 3600
	}
	if c.Workers.ClickBatchSize == 0 {
		c.Workers.ClickBatchSize = 100
	}
	if c.Workers.ShutdownGrace == 0 {
		c.Workers.ShutdownGrace = 10
	}
	if c.RateLimit.Strategy == "" {
		c.RateLimit.Strategy = "sliding_window"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// maxShortCodeLength matches the short_code column
const maxShortCodeLength = 20

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Link.PopularThreshold < 1 {
		return fmt.Errorf("link.popular_threshold must be >= 1, got %d", c.Link.PopularThreshold)
	}
	if c.Link.CacheTTLSeconds < 0 {
		return fmt.Errorf("link.cache_ttl_seconds must not be negative")
	}
	if c.Link.AliasMaxLength > maxShortCodeLength {
		return fmt.Errorf("link.alias_max_length must be <= %d, got %d", maxShortCodeLength, c.Link.AliasMaxLength)
	}
	if c.Link.AliasMinLength > c.Link.AliasMaxLength {
		return fmt.Errorf("link.alias_min_length (%d) exceeds alias_max_length (%d)",
			c.Link.AliasMinLength, c.Link.AliasMaxLength)
	}
	if c.Workers.ReconcileInterval < 0 || c.Workers.SweepInterval < 0 {
		return fmt.Errorf("worker intervals must be positive")
	}
	if c.Workers.ClickBatchSize < 1 {
		return fmt.Errorf("workers.click_batch_size must be >= 1")
	}
	switch c.RateLimit.Strategy {
	case "fixed_window", "sliding_window":
	default:
		return fmt.Errorf("unknown rate_limit.strategy %q", c.RateLimit.Strategy)
	}
	return nil
}
