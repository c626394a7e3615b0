package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API struct {
		Endpoints             []string `yaml:"endpoints"`
		ProbeTimeoutMS        int      `yaml:"probe_timeout_ms"`
		RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
		RequestsPerSecond     float64  `yaml:"requests_per_second"`
		Burst                 int      `yaml:"burst"`
		BreakerFailures       uint32   `yaml:"breaker_failures"`
		BreakerOpenSeconds    int      `yaml:"breaker_open_seconds"`
		CacheTTLSeconds       int      `yaml:"cache_ttl_seconds"`
	} `yaml:"api"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Session struct {
		RefreshTimeoutSeconds int `yaml:"refresh_timeout_seconds"`
	} `yaml:"session"`

	Monitoring struct {
		HealthCheckIntervalSeconds int  `yaml:"health_check_interval_seconds"`
		PrometheusEnabled          bool `yaml:"prometheus_enabled"`
		PrometheusPort             int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Booking struct {
		ProvidersPath         string `yaml:"providers_path"`
		ReloadIntervalSeconds int    `yaml:"reload_interval_seconds"`
	} `yaml:"booking"`

	// Stub runs the core against the in-memory backend instead of the API.
	Stub struct {
		Enabled bool              `yaml:"enabled"`
		Users   map[string]string `yaml:"users"`
	} `yaml:"stub"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// An unset ${VAR} endpoint expands to nothing.
	endpoints := cfg.API.Endpoints[:0]
	for _, e := range cfg.API.Endpoints {
		if strings.TrimSpace(e) != "" {
			endpoints = append(endpoints, e)
		}
	}
	cfg.API.Endpoints = endpoints

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/slotbook.db"
	}
	if cfg.Booking.ProvidersPath == "" {
		cfg.Booking.ProvidersPath = filepath.Join(filepath.Dir(path), "providers.yaml")
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if !c.Stub.Enabled && len(c.API.Endpoints) == 0 {
		return fmt.Errorf("api.endpoints: at least one endpoint is required")
	}
	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second cannot be negative")
	}
	return nil
}

func (c *Config) ProbeTimeout() time.Duration {
	if c.API.ProbeTimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.API.ProbeTimeoutMS) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	if c.API.RequestTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.API.RequestTimeoutSeconds) * time.Second
}

func (c *Config) BreakerOpenTimeout() time.Duration {
	if c.API.BreakerOpenSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.API.BreakerOpenSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.API.CacheTTLSeconds) * time.Second
}

func (c *Config) RefreshTimeout() time.Duration {
	if c.Session.RefreshTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Session.RefreshTimeoutSeconds) * time.Second
}

func (c *Config) HealthCheckInterval() time.Duration {
	if c.Monitoring.HealthCheckIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Monitoring.HealthCheckIntervalSeconds) * time.Second
}

func (c *Config) ReloadInterval() time.Duration {
	if c.Booking.ReloadIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Booking.ReloadIntervalSeconds) * time.Second
}

func (c *Config) PrometheusPort() int {
	if c.Monitoring.PrometheusPort == 0 {
		return 9090
	}
	return c.Monitoring.PrometheusPort
}

// LogLevel returns the configured level, info by default.
func (c *Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
