package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Resolver    ResolverConfig    `yaml:"resolver" mapstructure:"resolver"`
	Evaluate    EvaluateConfig    `yaml:"evaluate" mapstructure:"evaluate"`
	Progressive ProgressiveConfig `yaml:"progressive" mapstructure:"progressive"`
	Platform    PlatformConfig    `yaml:"platform" mapstructure:"platform"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects where reference boundary datasets are read from.
// Driver is one of "memory", "sqlite", "postgres" or "platform".
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// Manifest lists datasets loaded into the memory store at startup.
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
	TempDir  string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// ResolverConfig configures place resolution and the geometry result cache.
type ResolverConfig struct {
	CatalogPath     string  `yaml:"catalog_path" mapstructure:"catalog_path"`
	LegacyTablePath string  `yaml:"legacy_table_path" mapstructure:"legacy_table_path"`
	CacheMaxEntries int     `yaml:"cache_max_entries" mapstructure:"cache_max_entries"`
	CacheTTLSecs    int     `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	RegionInference bool    `yaml:"region_inference" mapstructure:"region_inference"`
	BufferMeters    float64 `yaml:"buffer_meters" mapstructure:"buffer_meters"`
}

// EvaluateConfig configures the evaluation cache and request queue.
type EvaluateConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalMs   int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	CacheMaxEntries  int `yaml:"cache_max_entries" mapstructure:"cache_max_entries"`
	CacheTTLSecs     int `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	PartialTTLSecs   int `yaml:"partial_ttl_secs" mapstructure:"partial_ttl_secs"`
	DefaultTimeoutMs int `yaml:"default_timeout_ms" mapstructure:"default_timeout_ms"`
	BatchChunkSize   int `yaml:"batch_chunk_size" mapstructure:"batch_chunk_size"`
}

// ProgressiveConfig configures the progressive loader timeouts.
type ProgressiveConfig struct {
	PrimaryTimeoutMs  int `yaml:"primary_timeout_ms" mapstructure:"primary_timeout_ms"`
	FallbackTimeoutMs int `yaml:"fallback_timeout_ms" mapstructure:"fallback_timeout_ms"`
}

// PlatformConfig holds remote analysis platform settings.
type PlatformConfig struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	Project      string        `yaml:"project" mapstructure:"project"`
	Token        string        `yaml:"token" mapstructure:"token"`
	RateLimitRPS float64       `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs  int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry        RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit      CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig holds retry settings for platform calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig holds circuit breaker settings for platform calls.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the tool server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CacheTTL returns the geometry cache TTL as a duration.
func (c ResolverConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// CacheTTL returns the evaluation cache TTL as a duration.
func (c EvaluateConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// PartialTTL returns how long partial-result markers stay cached.
func (c EvaluateConfig) PartialTTL() time.Duration {
	return time.Duration(c.PartialTTLSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AOI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.temp_dir", "/tmp/aoi-engine")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("resolver.cache_max_entries", 200)
	v.SetDefault("resolver.cache_ttl_secs", 3600)
	v.SetDefault("resolver.region_inference", false)
	v.SetDefault("resolver.buffer_meters", 1000.0)
	v.SetDefault("evaluate.concurrency", 3)
	v.SetDefault("evaluate.poll_interval_ms", 100)
	v.SetDefault("evaluate.cache_max_entries", 500)
	v.SetDefault("evaluate.cache_ttl_secs", 3600)
	v.SetDefault("evaluate.partial_ttl_secs", 60)
	v.SetDefault("evaluate.default_timeout_ms", 30000)
	v.SetDefault("evaluate.batch_chunk_size", 5)
	v.SetDefault("progressive.primary_timeout_ms", 5000)
	v.SetDefault("progressive.fallback_timeout_ms", 10000)
	v.SetDefault("platform.base_url", "https://earthengine.googleapis.com")
	v.SetDefault("platform.rate_limit_rps", 10.0)
	v.SetDefault("platform.timeout_secs", 60)
	v.SetDefault("platform.retry.max_attempts", 3)
	v.SetDefault("platform.retry.initial_backoff_ms", 500)
	v.SetDefault("platform.retry.max_backoff_ms", 10000)
	v.SetDefault("platform.circuit.failure_threshold", 5)
	v.SetDefault("platform.circuit.reset_timeout_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "platform":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if c.Evaluate.Concurrency <= 0 {
		return eris.New("config: evaluate.concurrency must be positive")
	}
	if c.Evaluate.BatchChunkSize <= 0 {
		return eris.New("config: evaluate.batch_chunk_size must be positive")
	}
	if c.Resolver.CacheMaxEntries <= 0 || c.Evaluate.CacheMaxEntries <= 0 {
		return eris.New("config: cache_max_entries must be positive")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
