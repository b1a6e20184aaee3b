package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.Backend.RequestTimeout)
	}
	if cfg.Session.Storage != StorageMemory {
		t.Errorf("Storage = %q", cfg.Session.Storage)
	}
	if cfg.Backend.CacheTTL != 0 {
		t.Errorf("CacheTTL = %v", cfg.Backend.CacheTTL)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.yaml")
	data := []byte(`
backend:
  base_url: https://records.example.com/api
  request_timeout: 5s
session:
  storage: redis
redis:
  addr: redis:6379
strict_policy: true
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORTAL_REDIS_ADDR", "cache:6380")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend.BaseURL != "https://records.example.com/api" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.Backend.RequestTimeout)
	}
	if cfg.Redis.Addr != "cache:6380" {
		t.Errorf("env should override file: Redis.Addr = %q", cfg.Redis.Addr)
	}
	if !cfg.StrictPolicy {
		t.Error("StrictPolicy should be read from the file")
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("unset keys keep defaults: Addr = %q", cfg.Server.Addr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("backend: [unterminated"), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("PORTAL_REDIS_DB", "not-a-number")
	t.Setenv("PORTAL_REQUEST_TIMEOUT", "soon")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Redis.DB != 0 || cfg.Backend.RequestTimeout != 15*time.Second {
		t.Error("unparsable env values should keep the previous value")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative url", func(c *Config) { c.Backend.BaseURL = "/api" }},
		{"zero timeout", func(c *Config) { c.Backend.RequestTimeout = 0 }},
		{"negative rate", func(c *Config) { c.Backend.RateLimit = -1 }},
		{"negative cache ttl", func(c *Config) { c.Backend.CacheTTL = -time.Second }},
		{"no cookie", func(c *Config) { c.Session.CookieName = "" }},
		{"unknown storage", func(c *Config) { c.Session.Storage = "s3" }},
		{"file without dir", func(c *Config) { c.Session.Storage = StorageFile; c.Session.Dir = "" }},
		{"redis without addr", func(c *Config) { c.Session.Storage = StorageRedis; c.Redis.Addr = "" }},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() should be valid: %v", err)
	}
}
