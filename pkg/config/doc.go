// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	PRDFORGE_PORT="8080"
//	PRDFORGE_HEALTH_PORT="9090"
//	PRDFORGE_WRITE_TIMEOUT="10m"   # must outlive the longest generation stream
//	PRDFORGE_CORS_ORIGINS="https://app.example.com"
//
// Storage settings:
//
//	PRDFORGE_DATABASE_URL="postgres://localhost/prdforge?sslmode=disable"
//	PRDFORGE_DATABASE_REPLICA_URLS="postgres://replica/prdforge"
//	PRDFORGE_REDIS_URL="redis://localhost:6379"   # optional, enables the distributed limiter
//	PRDFORGE_S3_BUCKET="prd-archive"              # optional, enables the archive
//
// Generation and billing:
//
//	PRDFORGE_ANTHROPIC_API_KEY="..."
//	PRDFORGE_ANTHROPIC_MODEL="claude-sonnet-4-5"
//	PRDFORGE_OIDC_ISSUER="https://auth.example.com"
//	PRDFORGE_LEMONSQUEEZY_WEBHOOK_SECRET="..."
//	PRDFORGE_CATALOG_PATH="/etc/prdforge/catalog.yaml"
//	PRDFORGE_SIGNUP_BONUS_CREDITS="1"
//
// Observability settings:
//
//	PRDFORGE_LOG_LEVEL="info"  # debug, info, warn, error
//	PRDFORGE_OTEL_ENABLED="true"
//	PRDFORGE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage
//
//	cfg, err := config.LoadConfig()        // API server, validates everything
//	cfg, err := config.LoadWorkerConfig()  // reconciler and admin binaries
package config
