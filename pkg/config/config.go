package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database connection configuration
	Database storage.ConnectionConfig

	// Redis configuration (balance cache)
	Redis storage.RedisConfig

	// Balance cache tuning
	Cache CacheConfig

	// External billing source
	Billing BillingConfig

	// Plan catalog configuration
	Plans PlansConfig

	// Reconciliation sweeper
	Reconcile ReconcileConfig

	// AI provider configuration
	AI AIConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// CacheConfig holds balance cache tuning
type CacheConfig struct {
	TTL    time.Duration
	L1Size int
}

// BillingConfig holds the external billing source settings
type BillingConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

// PlansConfig holds plan catalog settings
type PlansConfig struct {
	// File is an optional YAML catalog overriding the built-in plans
	File string
	// Watch reloads the catalog when the file changes
	Watch bool
}

// ReconcileConfig holds reconciliation sweeper settings
type ReconcileConfig struct {
	Enabled  bool
	Schedule string
	Workers  int
}

// AIConfig holds the AI provider settings
type AIConfig struct {
	OpenAIKey string
	Model     string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		Billing:       loadBillingConfig(),
		Plans:         loadPlansConfig(),
		Reconcile:     loadReconcileConfig(),
		AI:            loadAIConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CREDITD_HOST", "0.0.0.0"),
		Port:            getEnv("CREDITD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CREDITD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CREDITD_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("CREDITD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CREDITD_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CREDITD_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database connection configuration from environment
func loadDatabaseConfig() storage.ConnectionConfig {
	return storage.ConnectionConfig{
		PrimaryURL:  getEnv("CREDITD_POSTGRES_URL", ""),
		ReplicaURLs: storage.ParseReplicaURLs(getEnv("CREDITD_POSTGRES_REPLICA_URLS", "")),
		MaxConns:    getEnvInt("CREDITD_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("CREDITD_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("CREDITD_POSTGRES_TIMEOUT", 10*time.Second),
		MaxLifetime: getEnvDuration("CREDITD_POSTGRES_MAX_LIFETIME", time.Hour),
		MaxIdleTime: getEnvDuration("CREDITD_POSTGRES_MAX_IDLE_TIME", 10*time.Minute),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() storage.RedisConfig {
	return storage.RedisConfig{
		Addr:     getEnv("CREDITD_REDIS_ADDR", ""),
		Password: getEnv("CREDITD_REDIS_PASSWORD", ""),
		DB:       getEnvInt("CREDITD_REDIS_DB", 0),
		Timeout:  getEnvDuration("CREDITD_REDIS_TIMEOUT", 5*time.Second),
	}
}

// loadCacheConfig loads balance cache tuning from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:    getEnvDuration("CREDITD_CACHE_TTL", 15*time.Second),
		L1Size: getEnvInt("CREDITD_CACHE_L1_SIZE", 4096),
	}
}

// loadBillingConfig loads the billing source settings from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		BaseURL:       getEnv("CREDITD_BILLING_URL", ""),
		APIKey:        getEnv("CREDITD_BILLING_API_KEY", ""),
		WebhookSecret: getEnv("CREDITD_BILLING_WEBHOOK_SECRET", ""),
	}
}

// loadPlansConfig loads plan catalog settings from environment
func loadPlansConfig() PlansConfig {
	return PlansConfig{
		File:  getEnv("CREDITD_PLANS_FILE", ""),
		Watch: getEnvBool("CREDITD_PLANS_WATCH", false),
	}
}

// loadReconcileConfig loads reconciliation sweeper settings from environment
func loadReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Enabled:  getEnvBool("CREDITD_RECONCILE_ENABLED", true),
		Schedule: getEnv("CREDITD_RECONCILE_SCHEDULE", "@every 1h"),
		Workers:  getEnvInt("CREDITD_RECONCILE_WORKERS", 8),
	}
}

// loadAIConfig loads the AI provider settings from environment
func loadAIConfig() AIConfig {
	return AIConfig{
		OpenAIKey: getEnv("CREDITD_OPENAI_API_KEY", ""),
		Model:     getEnv("CREDITD_OPENAI_MODEL", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	cfg := ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("CREDITD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CREDITD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CREDITD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CREDITD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CREDITD_OTEL_SERVICE_NAME", "creditd"),
		OTelServiceVersion: getEnv("CREDITD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CREDITD_OTEL_INSECURE", true),
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate database config
	if c.Database.PrimaryURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate billing config. The webhook secret is mandatory whenever a
	// billing source is configured: an unsigned webhook endpoint would let
	// anyone rewrite entitlements.
	if c.Billing.BaseURL != "" {
		if c.Billing.APIKey == "" {
			return fmt.Errorf("billing API key is required when a billing URL is configured")
		}
		if c.Billing.WebhookSecret == "" {
			return fmt.Errorf("billing webhook secret is required when a billing URL is configured")
		}
	}

	// Validate reconcile config
	if c.Reconcile.Enabled {
		if c.Reconcile.Schedule == "" {
			return fmt.Errorf("reconcile schedule is required when reconciliation is enabled")
		}
		if c.Reconcile.Workers < 1 {
			return fmt.Errorf("reconcile workers must be at least 1")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
