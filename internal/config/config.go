package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	moderate "github.com/anatolykoptev/go-moderate"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// ErrInvalidConfig is returned when a loaded configuration cannot be used.
var ErrInvalidConfig = errors.New("config: invalid")

// Config holds the moderationd service configuration.
type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // json or text
	} `yaml:"log"`

	Moderation struct {
		FetchTimeout     time.Duration `yaml:"fetch_timeout"`
		ProviderTimeout  time.Duration `yaml:"provider_timeout"`
		BatchConcurrency int           `yaml:"batch_concurrency"`
		MaxBatchItems    int           `yaml:"max_batch_items"`
		KnownImagesDir   string        `yaml:"known_images_dir"`
		StockDomains     []string      `yaml:"stock_domains"`
		BannedKeywords   []string      `yaml:"banned_keywords"`
		SpamKeywords     []string      `yaml:"spam_keywords"`
	} `yaml:"moderation"`

	// Sightengine credentials. Empty credentials select heuristic NSFW mode.
	Sightengine struct {
		APIUser   string `yaml:"api_user"`
		APISecret string `yaml:"api_secret"`
		Endpoint  string `yaml:"endpoint"`
	} `yaml:"sightengine"`

	Cache struct {
		Backend    string        `yaml:"backend"`
		TTL        time.Duration `yaml:"ttl"`
		MaxEntries int           `yaml:"max_entries"`
		Redis      struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	// Thresholds are merged over the built-in defaults at startup.
	Thresholds moderate.ThresholdsUpdate `yaml:"thresholds"`
}

// Load reads configuration from a YAML file. An empty path yields defaults.
// Secrets support ${VAR} expansion; SIGHTENGINE_API_USER, SIGHTENGINE_API_SECRET
// and REDIS_PASSWORD override the file when set.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Sightengine.APIUser = os.ExpandEnv(c.Sightengine.APIUser)
	c.Sightengine.APISecret = os.ExpandEnv(c.Sightengine.APISecret)
	c.Cache.Redis.Addr = os.ExpandEnv(c.Cache.Redis.Addr)
	c.Cache.Redis.Password = os.ExpandEnv(c.Cache.Redis.Password)

	if v := os.Getenv("SIGHTENGINE_API_USER"); v != "" {
		c.Sightengine.APIUser = v
	}
	if v := os.Getenv("SIGHTENGINE_API_SECRET"); v != "" {
		c.Sightengine.APISecret = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Cache.Redis.Password = v
	}
}

func (c *Config) defaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Moderation.FetchTimeout <= 0 {
		c.Moderation.FetchTimeout = 30 * time.Second
	}
	if c.Moderation.ProviderTimeout <= 0 {
		c.Moderation.ProviderTimeout = moderate.DefaultProviderTimeout
	}
	if c.Moderation.BatchConcurrency <= 0 {
		c.Moderation.BatchConcurrency = 4
	}
	if c.Moderation.MaxBatchItems <= 0 {
		c.Moderation.MaxBatchItems = 500
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheMemory
	}
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = moderate.DefaultCacheTTL
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = moderate.DefaultCacheMaxEntries
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = "localhost:6379"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "moderate:"
	}
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, c.Cache.Backend)
	}
	if _, err := moderate.NewThresholdRegistry(moderate.DefaultThresholds).Update(c.Thresholds); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LogLevel maps the configured level name to a slog level. Unknown names mean info.
func (c *Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ProviderConfigured reports whether Sightengine credentials are present.
func (c *Config) ProviderConfigured() bool {
	return c.Sightengine.APIUser != "" && c.Sightengine.APISecret != ""
}
