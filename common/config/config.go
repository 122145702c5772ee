package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis settings. An empty Addr disables Redis-backed
// rate limiting and change broadcasts.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EngineConfig holds execution engine settings
type EngineConfig struct {
	PublicBaseURL   string
	CallbackSecret  string
	MaxParallel     int
	DispatchTimeout time.Duration
	DispatchRetries int

	// DispatchAllowPrivate relaxes the egress policy so workers on
	// loopback/private addresses can be dispatched to. Development only.
	DispatchAllowPrivate bool
}

// WebhookConfig holds webhook ingress settings
type WebhookConfig struct {
	RateLimitPerMin int
	RateBurst       int
	StripeTolerance time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables. A .env file in the
// working directory is applied first when present (ignored otherwise).
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
			CallbackSecret:  getEnv("CALLBACK_SECRET", ""),
			MaxParallel:     getEnvInt("ENGINE_MAX_PARALLEL", 8),
			DispatchTimeout: getEnvDuration("DISPATCH_TIMEOUT", 30*time.Second),
			DispatchRetries: getEnvInt("DISPATCH_RETRIES", 3),

			DispatchAllowPrivate: getEnvBool("DISPATCH_ALLOW_PRIVATE", false),
		},
		Webhook: WebhookConfig{
			RateLimitPerMin: getEnvInt("WEBHOOK_RATE_LIMIT", 60),
			RateBurst:       getEnvInt("WEBHOOK_RATE_BURST", 10),
			StripeTolerance: getEnvDuration("WEBHOOK_STRIPE_TOLERANCE", 5*time.Minute),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid. Missing required variables are
// reported together so a single boot failure lists everything to fix.
func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Engine.PublicBaseURL == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Engine.MaxParallel < 1 {
		return fmt.Errorf("ENGINE_MAX_PARALLEL must be >= 1")
	}

	if c.Webhook.RateLimitPerMin < 1 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT must be >= 1")
	}

	return nil
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
