// Package config loads the portal server configuration from defaults, an
// optional YAML file and PORTAL_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the portal server.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Redis   RedisConfig   `yaml:"redis"`
	Metrics MetricsConfig `yaml:"metrics"`

	// StrictPolicy panics on unknown capabilities. Use in development.
	StrictPolicy bool `yaml:"strict_policy"`
}

type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RateLimit caps outbound requests per second. Zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// CacheTTL bounds how long a browser's read results are reused. Zero
	// sends every read to the backend.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`

	// LoginRate caps login attempts per second across the server.
	LoginRate  float64 `yaml:"login_rate"`
	LoginBurst int     `yaml:"login_burst"`
}

// Storage kinds.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	Storage    string        `yaml:"storage"`
	Dir        string        `yaml:"dir"`
	TTL        time.Duration `yaml:"ttl"`
	Secure     bool          `yaml:"secure"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8000/api",
			RequestTimeout: 15 * time.Second,
			RateBurst:      10,
		},
		Server: ServerConfig{
			Addr:       ":8080",
			LoginRate:  5,
			LoginBurst: 10,
		},
		Session: SessionConfig{
			CookieName: "portal_session",
			Storage:    StorageMemory,
			Dir:        "./sessions",
			TTL:        12 * time.Hour,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("portal/config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("portal/config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Backend.BaseURL = getEnv("PORTAL_BACKEND_URL", c.Backend.BaseURL)
	c.Backend.RequestTimeout = getEnvAsDuration("PORTAL_REQUEST_TIMEOUT", c.Backend.RequestTimeout)
	c.Backend.RateLimit = getEnvAsFloat("PORTAL_RATE_LIMIT", c.Backend.RateLimit)
	c.Backend.CacheTTL = getEnvAsDuration("PORTAL_CACHE_TTL", c.Backend.CacheTTL)
	c.Server.Addr = getEnv("PORTAL_ADDR", c.Server.Addr)
	c.Session.CookieName = getEnv("PORTAL_COOKIE_NAME", c.Session.CookieName)
	c.Session.Storage = getEnv("PORTAL_SESSION_STORAGE", c.Session.Storage)
	c.Session.Dir = getEnv("PORTAL_SESSION_DIR", c.Session.Dir)
	c.Session.Secure = getEnvAsBool("PORTAL_COOKIE_SECURE", c.Session.Secure)
	c.Redis.Addr = getEnv("PORTAL_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("PORTAL_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("PORTAL_REDIS_DB", c.Redis.DB)
	c.Metrics.Enabled = getEnvAsBool("PORTAL_METRICS", c.Metrics.Enabled)
	c.StrictPolicy = getEnvAsBool("PORTAL_STRICT_POLICY", c.StrictPolicy)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.ParseRequestURI(c.Backend.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("portal/config: backend.base_url %q is not an absolute URL", c.Backend.BaseURL)
	}
	if c.Backend.RequestTimeout <= 0 {
		return errors.New("portal/config: backend.request_timeout must be positive")
	}
	if c.Backend.CacheTTL < 0 {
		return errors.New("portal/config: backend.cache_ttl cannot be negative")
	}
	if c.Backend.RateLimit < 0 || c.Server.LoginRate < 0 {
		return errors.New("portal/config: rate limits cannot be negative")
	}
	if c.Server.Addr == "" {
		return errors.New("portal/config: server.addr is required")
	}
	if c.Session.CookieName == "" {
		return errors.New("portal/config: session.cookie_name is required")
	}
	switch c.Session.Storage {
	case StorageMemory:
	case StorageFile:
		if c.Session.Dir == "" {
			return errors.New("portal/config: session.dir is required for file storage")
		}
	case StorageRedis:
		if c.Redis.Addr == "" {
			return errors.New("portal/config: redis.addr is required for redis storage")
		}
	default:
		return fmt.Errorf("portal/config: unknown session.storage %q", c.Session.Storage)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
