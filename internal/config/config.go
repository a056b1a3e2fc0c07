// Package config loads the worker configuration from config/troupe.yaml
// and layers environment overrides on top. Run tunables can additionally
// be hot-reloaded through Manager; everything else is fixed for the
// process lifetime.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/troupehq/troupe/internal/journal"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "config/troupe.yaml"

// Config is the full worker configuration.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Journal    journal.Config   `mapstructure:"journal"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Backends   BackendsConfig   `mapstructure:"backends"`
	Generation GenerationConfig `mapstructure:"generation"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Runs       RunsConfig       `mapstructure:"runs"`
}

type ServiceConfig struct {
	Name string `mapstructure:"name"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type AdminConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File enables rotating file output when set.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ArchiveConfig struct {
	TTLHours int `mapstructure:"ttl_hours"`
	// CacheSize bounds the in-process fallback cache.
	CacheSize int `mapstructure:"cache_size"`
}

// BackendsConfig binds responsibilities to backend ids and locates the
// pricing table the fallback resolver substitutes within.
type BackendsConfig struct {
	PricingPath    string            `mapstructure:"pricing_path"`
	FallbackDepth  int               `mapstructure:"fallback_depth"`
	DefaultBackend string            `mapstructure:"default"`
	Bindings       map[string]string `mapstructure:"bindings"`
}

type GenerationConfig struct {
	BaseURL         string  `mapstructure:"base_url"`
	APIKeyEnv       string  `mapstructure:"api_key_env"`
	GeminiAPIKeyEnv string  `mapstructure:"gemini_api_key_env"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	// RPS and Burst bound each backend's request rate.
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type ToolsConfig struct {
	TavilyAPIKeyEnv  string `mapstructure:"tavily_api_key_env"`
	SearchDepth      string `mapstructure:"search_depth"`
	MaxResults       int    `mapstructure:"max_results"`
	CacheSize        int    `mapstructure:"cache_size"`
	CacheTTLSeconds  int    `mapstructure:"cache_ttl_seconds"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	DisableSearching bool   `mapstructure:"disable_searching"`
}

// RunsConfig holds the per-run tunables; these are the only settings the
// Manager hot-reloads.
type RunsConfig struct {
	MaxIterations    int     `mapstructure:"max_iterations"`
	SupervisorCap    int     `mapstructure:"supervisor_cap"`
	QualityThreshold float64 `mapstructure:"quality_threshold"`
	MaxSections      int     `mapstructure:"max_sections"`
	MaxConcurrency   int     `mapstructure:"max_concurrency"`
}

// Path resolves the config file location from CONFIG_PATH.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the config file, applies defaults, then environment
// overrides, and validates the result.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "troupe-worker")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "troupe-runs")
	v.SetDefault("admin.port", 8081)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("journal.host", "localhost")
	v.SetDefault("journal.port", 5432)
	v.SetDefault("journal.user", "troupe")
	v.SetDefault("journal.database", "troupe")
	v.SetDefault("journal.ssl_mode", "disable")
	v.SetDefault("archive.ttl_hours", 72)
	v.SetDefault("archive.cache_size", 256)
	v.SetDefault("backends.pricing_path", "config/pricing.yaml")
	v.SetDefault("backends.fallback_depth", 5)
	v.SetDefault("generation.base_url", "https://api.openai.com/v1")
	v.SetDefault("generation.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("generation.gemini_api_key_env", "GEMINI_API_KEY")
	v.SetDefault("generation.max_tokens", 2048)
	v.SetDefault("generation.temperature", 0.3)
	v.SetDefault("generation.rps", 5)
	v.SetDefault("generation.burst", 10)
	v.SetDefault("tools.tavily_api_key_env", "TAVILY_API_KEY")
	v.SetDefault("tools.search_depth", "basic")
	v.SetDefault("tools.max_results", 5)
	v.SetDefault("tools.cache_size", 512)
	v.SetDefault("tools.cache_ttl_seconds", 300)
	v.SetDefault("tools.timeout_seconds", 20)
	v.SetDefault("runs.supervisor_cap", 12)
	v.SetDefault("runs.quality_threshold", 0.7)
	v.SetDefault("runs.max_sections", 4)
	v.SetDefault("runs.max_concurrency", 4)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TEMPORAL_HOST_PORT"); v != "" {
		cfg.Temporal.HostPort = v
	}
	if v := os.Getenv("TEMPORAL_NAMESPACE"); v != "" {
		cfg.Temporal.Namespace = v
	}
	if v := os.Getenv("TEMPORAL_TASK_QUEUE"); v != "" {
		cfg.Temporal.TaskQueue = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Journal.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Journal.Port = x
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Journal.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Journal.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Journal.Database = v
	}
	if v := os.Getenv("ADMIN_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Admin.Port = x
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
		cfg.Tracing.Enabled = true
	}
	if v := os.Getenv("PRICING_PATH"); v != "" {
		cfg.Backends.PricingPath = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.Generation.BaseURL = v
	}
	if v := os.Getenv("QUALITY_THRESHOLD"); v != "" {
		var x float64
		_, _ = fmt.Sscanf(v, "%f", &x)
		if x > 0 {
			cfg.Runs.QualityThreshold = x
		}
	}
	if v := os.Getenv("MAX_ITERATIONS"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Runs.MaxIterations = x
		}
	}
}

// Validate rejects configurations no worker can start with.
func (c *Config) Validate() error {
	if c.Temporal.HostPort == "" {
		return fmt.Errorf("temporal.host_port is required")
	}
	if c.Temporal.TaskQueue == "" {
		return fmt.Errorf("temporal.task_queue is required")
	}
	if c.Backends.DefaultBackend == "" && len(c.Backends.Bindings) == 0 {
		return fmt.Errorf("backends.default or backends.bindings must name at least one backend")
	}
	if c.Backends.FallbackDepth < 0 {
		return fmt.Errorf("backends.fallback_depth must not be negative")
	}
	if c.Runs.QualityThreshold < 0 || c.Runs.QualityThreshold > 1 {
		return fmt.Errorf("runs.quality_threshold must be within [0,1], got %v", c.Runs.QualityThreshold)
	}
	if c.Runs.MaxIterations < 0 {
		return fmt.Errorf("runs.max_iterations must not be negative")
	}
	return nil
}

// ArchiveTTL returns the archive retention as a duration.
func (c *Config) ArchiveTTL() time.Duration {
	if c.Archive.TTLHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(c.Archive.TTLHours) * time.Hour
}

// ToolCacheTTL returns the search cache retention as a duration.
func (c *Config) ToolCacheTTL() time.Duration {
	if c.Tools.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Tools.CacheTTLSeconds) * time.Second
}
