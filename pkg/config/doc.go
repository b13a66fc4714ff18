// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	CREDITD_HOST="0.0.0.0"
//	CREDITD_PORT="8080"
//	CREDITD_HEALTH_PORT="9090"
//	CREDITD_READ_TIMEOUT="15s"
//	CREDITD_WRITE_TIMEOUT="60s"
//
// Database settings:
//
//	CREDITD_POSTGRES_URL="postgres://localhost/creditd"
//	CREDITD_POSTGRES_REPLICA_URLS="postgres://replica-a/creditd,postgres://replica-b/creditd"
//	CREDITD_POSTGRES_MAX_CONNS="25"
//
// Cache settings:
//
//	CREDITD_REDIS_ADDR="localhost:6379"
//	CREDITD_CACHE_TTL="15s"
//	CREDITD_CACHE_L1_SIZE="4096"
//
// Billing source settings:
//
//	CREDITD_BILLING_URL="https://billing.internal"
//	CREDITD_BILLING_API_KEY="sk_..."
//	CREDITD_BILLING_WEBHOOK_SECRET="whsec_..."
//
// Reconciliation settings:
//
//	CREDITD_RECONCILE_ENABLED="true"
//	CREDITD_RECONCILE_SCHEDULE="@every 1h"
//	CREDITD_RECONCILE_WORKERS="8"
//
// Observability settings:
//
//	CREDITD_LOG_LEVEL="info"  # debug, info, warn, error
//	CREDITD_METRICS_ENABLED="true"
//	CREDITD_OTEL_ENABLED="true"
//	CREDITD_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage: Uses database and Redis configuration
//   - pkg/observability: Uses observability configuration
package config
