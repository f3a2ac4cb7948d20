package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// DataPaths holds data directory and file path configuration
type DataPaths struct {
	// DataDir is the base data directory (SENTINEL_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the case database (SENTINEL_SQLITE_PATH, default: ${DataDir}/sentinel.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// RedisConfig configures the redis storage backend
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StorageConfig selects and tunes the case repository
type StorageConfig struct {
	Backend      string        `mapstructure:"backend"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	WriteRetries int           `mapstructure:"write_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

// EngineConfig tunes detection
type EngineConfig struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	RegexTimeout time.Duration `mapstructure:"regex_timeout"`
	// RulesFile replaces the built-in rule table when set
	RulesFile string `mapstructure:"rules_file"`
}

// CaseConfig holds analyst identity and case seeding
type CaseConfig struct {
	Analyst  string `mapstructure:"analyst"`
	SeedNote string `mapstructure:"seed_note"`
}

// NotifyConfig tunes change notification delivery
type NotifyConfig struct {
	HandlerWarnAfter time.Duration `mapstructure:"handler_warn_after"`
	WebSocketBuffer  int           `mapstructure:"websocket_buffer"`
}

// RateLimitConfig limits event submissions over HTTP
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// APIConfig configures the HTTP surface
type APIConfig struct {
	Enabled         bool            `mapstructure:"enabled"`
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	AllowedOrigins  []string        `mapstructure:"allowed_origins"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	MaxBodyBytes    int64           `mapstructure:"max_body_bytes"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
}

// CollectorConfig drives the simulated telemetry collector
type CollectorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	MaliciousRatio float64       `mapstructure:"malicious_ratio"`
	Host           string        `mapstructure:"host"`
	User           string        `mapstructure:"user"`
}

// Config holds all configuration for the Sentinel service
type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	DataPaths DataPaths       `mapstructure:"data_paths"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Case      CaseConfig      `mapstructure:"case"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	API       APIConfig       `mapstructure:"api"`
	Collector CollectorConfig `mapstructure:"collector"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("data_paths.data_dir", "./data")
	v.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.write_timeout", "5s")
	v.SetDefault("storage.write_retries", 2)
	v.SetDefault("storage.retry_backoff", "200ms")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.key_prefix", "sentinel_")

	v.SetDefault("engine.buffer_size", 200)
	v.SetDefault("engine.regex_timeout", "500ms")
	v.SetDefault("engine.rules_file", "")

	v.SetDefault("case.analyst", "J. Harkness")
	v.SetDefault("case.seed_note", "Case initialized after detection of PowerShell download cradle.")

	v.SetDefault("notify.handler_warn_after", "250ms")
	v.SetDefault("notify.websocket_buffer", 1)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.rate_limit.requests_per_second", 50)
	v.SetDefault("api.rate_limit.burst", 100)
	v.SetDefault("api.max_body_bytes", 1<<20)
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "15s")
	v.SetDefault("api.shutdown_timeout", "10s")

	v.SetDefault("collector.enabled", true)
	v.SetDefault("collector.interval", "5s")
	v.SetDefault("collector.malicious_ratio", 0.05)
	v.SetDefault("collector.host", "SEC-WKSTN-01")
	v.SetDefault("collector.user", `CORP\J.Harkness`)
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names for the settings operators touch most
	_ = v.BindEnv("log.level", "SENTINEL_LOG_LEVEL")
	_ = v.BindEnv("data_paths.data_dir", "SENTINEL_DATA_DIR")
	_ = v.BindEnv("data_paths.sqlite_path", "SENTINEL_SQLITE_PATH")
	_ = v.BindEnv("storage.backend", "SENTINEL_STORAGE_BACKEND")
	_ = v.BindEnv("storage.redis.addr", "SENTINEL_REDIS_ADDR")
	_ = v.BindEnv("storage.redis.password", "SENTINEL_REDIS_PASSWORD")
	_ = v.BindEnv("engine.rules_file", "SENTINEL_RULES_FILE")
	_ = v.BindEnv("case.analyst", "SENTINEL_ANALYST")
}

// LoadConfig loads config.yaml from . or ./config, then environment overrides
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("")
}

// LoadConfigFrom loads an explicit config file when path is set, otherwise
// searches the default locations. A missing default file is not an error.
func LoadConfigFrom(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.ResolveDataPaths()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Default returns the built-in configuration without reading files or env
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	// Defaults always decode
	_ = v.Unmarshal(&config)
	config.ResolveDataPaths()
	return &config
}

// ResolveDataPaths derives unset paths from DataDir
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "sentinel.db")
	} else if c.DataPaths.SQLitePath != ":memory:" && !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	c.DataPaths.DataDir = dataDir
}

// ListenAddr returns host:port for the HTTP server
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

func validateConfig(config *Config) error {
	switch strings.ToLower(config.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be debug, info, warn or error", config.Log.Level)
	}

	switch config.Storage.Backend {
	case BackendSQLite:
		if config.DataPaths.SQLitePath == "" {
			return fmt.Errorf("sqlite path cannot be empty")
		}
	case BackendRedis:
		if config.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
		if config.Storage.Redis.PoolSize < 0 {
			return fmt.Errorf("storage.redis.pool_size cannot be negative")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid storage backend %q: must be %s, %s or %s",
			config.Storage.Backend, BackendSQLite, BackendRedis, BackendMemory)
	}
	if config.Storage.WriteTimeout <= 0 {
		return fmt.Errorf("storage.write_timeout must be positive")
	}
	if config.Storage.WriteRetries < 0 || config.Storage.WriteRetries > 10 {
		return fmt.Errorf("storage.write_retries must be between 0 and 10, got %d", config.Storage.WriteRetries)
	}

	if config.Engine.BufferSize < 1 || config.Engine.BufferSize > 100000 {
		return fmt.Errorf("engine.buffer_size must be between 1 and 100000, got %d", config.Engine.BufferSize)
	}
	if config.Engine.RegexTimeout <= 0 || config.Engine.RegexTimeout > 10*time.Second {
		return fmt.Errorf("engine.regex_timeout must be in (0, 10s], got %v", config.Engine.RegexTimeout)
	}

	if config.Notify.HandlerWarnAfter < 0 {
		return fmt.Errorf("notify.handler_warn_after cannot be negative")
	}

	if config.API.Enabled {
		if config.API.Port < 1 || config.API.Port > 65535 {
			return fmt.Errorf("api.port must be between 1 and 65535, got %d", config.API.Port)
		}
		if config.API.RateLimit.RequestsPerSecond < 0 || config.API.RateLimit.Burst < 0 {
			return fmt.Errorf("api.rate_limit values cannot be negative")
		}
		for _, origin := range config.API.AllowedOrigins {
			if origin == "*" {
				continue
			}
			parsed, err := url.Parse(origin)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				return fmt.Errorf("invalid allowed origin %q: must be an absolute URL or *", origin)
			}
		}
	}

	if config.Collector.Enabled {
		if config.Collector.Interval <= 0 {
			return fmt.Errorf("collector.interval must be positive")
		}
		if config.Collector.MaliciousRatio < 0 || config.Collector.MaliciousRatio > 1 {
			return fmt.Errorf("collector.malicious_ratio must be between 0 and 1, got %v", config.Collector.MaliciousRatio)
		}
	}
	return nil
}
