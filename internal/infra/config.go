package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"quote_pulse/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config holds every application setting.
// It is loaded from YAML by LoadConfig and then overridden by environment variables.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr            string   `yaml:"addr"`
		ShutdownTimeout Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Source struct {
		Mode       string   `yaml:"mode"` // demo | http
		URL        string   `yaml:"url"`
		APIKey     string   `yaml:"api_key"`
		Timeout    Duration `yaml:"timeout"`
		RatePerSec float64  `yaml:"rate_per_sec"`
		RateBurst  int      `yaml:"rate_burst"`
		MaxRetries int      `yaml:"max_retries"`
		DemoSeed   int64    `yaml:"demo_seed"`
		DemoStep   float64  `yaml:"demo_step"`
	} `yaml:"source"`

	Scheduler struct {
		FastInterval     Duration `yaml:"fast_interval"`
		SlowInterval     Duration `yaml:"slow_interval"`
		FetchTimeout     Duration `yaml:"fetch_timeout"`
		PanicBackoff     Duration `yaml:"panic_backoff"`
		PopularThreshold int      `yaml:"popular_threshold"`
		PopularLimit     int      `yaml:"popular_limit"`
	} `yaml:"scheduler"`

	Cache struct {
		Backend       string   `yaml:"backend"` // memory | redis
		RedisAddr     string   `yaml:"redis_addr"`
		RedisPassword string   `yaml:"redis_password"`
		RedisDB       int      `yaml:"redis_db"`
		KeyPrefix     string   `yaml:"key_prefix"`
		SweepInterval Duration `yaml:"sweep_interval"`
	} `yaml:"cache"`

	Storage struct {
		DBPath        string `yaml:"db_path"`
		RetentionDays int    `yaml:"retention_days"`
		PruneAt       string `yaml:"prune_at"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// Duration is a time.Duration that unmarshals from YAML strings such as "5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a configuration usable without a file (demo source, memory cache).
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "quote-pulse"
	cfg.App.Version = "dev"
	cfg.Server.Addr = ":8080"
	cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	cfg.Source.Mode = "demo"
	cfg.Source.Timeout = Duration(10 * time.Second)
	cfg.Source.RatePerSec = 30
	cfg.Source.RateBurst = 5
	cfg.Source.MaxRetries = 2
	cfg.Source.DemoSeed = 1
	cfg.Source.DemoStep = 0.01
	cfg.Scheduler.FastInterval = Duration(5 * time.Second)
	cfg.Scheduler.SlowInterval = Duration(15 * time.Second)
	cfg.Scheduler.FetchTimeout = Duration(4 * time.Second)
	cfg.Scheduler.PanicBackoff = Duration(2 * time.Second)
	cfg.Scheduler.PopularThreshold = 2
	cfg.Scheduler.PopularLimit = 20
	cfg.Cache.Backend = "memory"
	cfg.Cache.KeyPrefix = "qp:"
	cfg.Cache.SweepInterval = Duration(time.Minute)
	cfg.Storage.RetentionDays = 30
	cfg.Storage.PruneAt = "03:00"
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig reads and parses the config file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Secrets and deployment specifics come from the environment.
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &domain.ConfigError{Field: "server.addr", Err: errors.New("must not be empty")}
	}

	switch c.Source.Mode {
	case "demo":
	case "http":
		if !strings.HasPrefix(c.Source.URL, "http://") && !strings.HasPrefix(c.Source.URL, "https://") {
			return &domain.ConfigError{Field: "source.url", Err: fmt.Errorf("invalid URL: %q", c.Source.URL)}
		}
	default:
		return &domain.ConfigError{Field: "source.mode", Err: fmt.Errorf("unknown mode %q", c.Source.Mode)}
	}

	if c.Scheduler.FastInterval <= 0 || c.Scheduler.SlowInterval <= 0 {
		return &domain.ConfigError{Field: "scheduler", Err: errors.New("intervals must be positive")}
	}
	if c.Scheduler.FetchTimeout <= 0 || c.Scheduler.FetchTimeout > c.Scheduler.FastInterval {
		return &domain.ConfigError{Field: "scheduler.fetch_timeout", Err: errors.New("must be positive and not exceed fast_interval")}
	}
	if c.Scheduler.PopularThreshold < 1 {
		return &domain.ConfigError{Field: "scheduler.popular_threshold", Err: errors.New("must be at least 1")}
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return &domain.ConfigError{Field: "cache.redis_addr", Err: errors.New("required for redis backend")}
		}
	default:
		return &domain.ConfigError{Field: "cache.backend", Err: fmt.Errorf("unknown backend %q", c.Cache.Backend)}
	}

	if c.Storage.RetentionDays < 0 {
		return &domain.ConfigError{Field: "storage.retention_days", Err: errors.New("must not be negative")}
	}

	return nil
}

// overrideWithEnv overwrites settings with environment variables when present.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("QUOTE_PULSE_API_KEY"); key != "" {
		cfg.Source.APIKey = key
	}
	if addr := os.Getenv("QUOTE_PULSE_REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
		cfg.Cache.Backend = "redis"
	}
	if path := os.Getenv("QUOTE_PULSE_DB_PATH"); path != "" {
		cfg.Storage.DBPath = path
	}
	if demo := os.Getenv("QUOTE_PULSE_DEMO"); demo != "" {
		if on, err := strconv.ParseBool(demo); err == nil && on {
			cfg.Source.Mode = "demo"
		}
	}
}
