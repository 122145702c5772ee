package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Service:  ServiceConfig{Name: "test", Port: 8080},
		Database: DatabaseConfig{URL: "postgres://localhost/test", MaxConns: 20, MinConns: 2},
		Engine:   EngineConfig{PublicBaseURL: "http://localhost:8080", MaxParallel: 8},
		Webhook:  WebhookConfig{RateLimitPerMin: 60, RateBurst: 10},
	}
}

func TestValidateReportsAllMissingTogether(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = ""
	cfg.Engine.PublicBaseURL = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("Expected validation error")
	}
	for _, name := range []string{"DATABASE_URL", "PUBLIC_BASE_URL"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("Error should name %s: %v", name, err)
		}
	}
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port_zero", func(c *Config) { c.Service.Port = 0 }},
		{"port_too_high", func(c *Config) { c.Service.Port = 70000 }},
		{"conns_inverted", func(c *Config) { c.Database.MinConns = 30 }},
		{"parallel_zero", func(c *Config) { c.Engine.MaxParallel = 0 }},
		{"rate_zero", func(c *Config) { c.Webhook.RateLimitPerMin = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected %s to fail validation", tc.name)
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Errorf("Valid config rejected: %v", err)
	}
}

func TestLoadAppliesEnvAndDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/canvas")
	t.Setenv("PUBLIC_BASE_URL", "https://engine.example.com/")
	t.Setenv("ENGINE_MAX_PARALLEL", "3")
	t.Setenv("DISPATCH_TIMEOUT", "5s")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load("canvas-engine")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Service.Name != "canvas-engine" {
		t.Errorf("Name = %s", cfg.Service.Name)
	}
	// Trailing slash is stripped so callback URLs join cleanly.
	if cfg.Engine.PublicBaseURL != "https://engine.example.com" {
		t.Errorf("PublicBaseURL = %s", cfg.Engine.PublicBaseURL)
	}
	if cfg.Engine.MaxParallel != 3 {
		t.Errorf("MaxParallel = %d", cfg.Engine.MaxParallel)
	}
	if cfg.Engine.DispatchTimeout != 5*time.Second {
		t.Errorf("DispatchTimeout = %s", cfg.Engine.DispatchTimeout)
	}
	if cfg.Webhook.RateLimitPerMin != 60 {
		t.Errorf("RateLimitPerMin default = %d", cfg.Webhook.RateLimitPerMin)
	}
	if cfg.RedisEnabled() {
		t.Errorf("Redis should be disabled with an empty addr")
	}
}
