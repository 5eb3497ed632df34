package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/prdforge/pkg/observability"
	"github.com/platinummonkey/prdforge/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	LLM           LLMConfig
	Auth          AuthConfig
	Billing       BillingConfig
	Credits       CreditsConfig
	RateLimit     RateLimitConfig
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
	MaxBodyBytes    int64
	CORSOrigins     []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// LLMConfig holds the hosted LLM settings
type LLMConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

// AuthConfig holds identity settings
type AuthConfig struct {
	OIDCIssuer     string
	OIDCClientID   string
	TokenCacheSize int
	TokenCacheTTL  time.Duration
}

// BillingConfig holds Lemon Squeezy settings
type BillingConfig struct {
	WebhookSecret string
	CatalogPath   string
}

// CreditsConfig holds credit costs and bonuses
type CreditsConfig struct {
	SignupBonus    int64
	GenerationCost int64
	RevisionCost   int64

	ReconcileSchedule    string
	ReconcileMaxAttempts int
	ReconcileBatchSize   int
	InvitationCleanup    string
}

// RateLimitConfig holds the per-user generation limiter settings
type RateLimitConfig struct {
	Enabled           bool
	GenerationsPerMin int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from PRDFORGE_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		LLM:           loadLLMConfig(),
		Auth:          loadAuthConfig(),
		Billing:       loadBillingConfig(),
		Credits:       loadCreditsConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PRDFORGE_HOST", "0.0.0.0"),
		Port:            getEnv("PRDFORGE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PRDFORGE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PRDFORGE_WRITE_TIMEOUT", 10*time.Minute), // must outlive a generation stream
		IdleTimeout:     getEnvDuration("PRDFORGE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PRDFORGE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("PRDFORGE_MAX_BODY_BYTES", 1<<20),
		CORSOrigins:     getEnvList("PRDFORGE_CORS_ORIGINS"),
		HealthPort:      getEnv("PRDFORGE_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.PostgresURL = getEnv("PRDFORGE_DATABASE_URL", "")
	cfg.PostgresReplicaURLs = getEnv("PRDFORGE_DATABASE_REPLICA_URLS", "")
	cfg.PostgresMaxConns = getEnvInt("PRDFORGE_DATABASE_MAX_CONNS", cfg.PostgresMaxConns)
	cfg.PostgresMinConns = getEnvInt("PRDFORGE_DATABASE_MIN_CONNS", cfg.PostgresMinConns)
	cfg.PostgresTimeout = getEnvDuration("PRDFORGE_DATABASE_TIMEOUT", cfg.PostgresTimeout)

	cfg.S3Endpoint = getEnv("PRDFORGE_S3_ENDPOINT", "")
	cfg.S3Region = getEnv("PRDFORGE_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("PRDFORGE_S3_BUCKET", "")
	cfg.S3AccessKey = getEnv("PRDFORGE_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("PRDFORGE_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("PRDFORGE_S3_USE_PATH_STYLE", false)
	cfg.S3CreateBucket = getEnvBool("PRDFORGE_S3_CREATE_BUCKET", false)

	cfg.RedisURL = getEnv("PRDFORGE_REDIS_URL", "")
	cfg.RedisPassword = getEnv("PRDFORGE_REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("PRDFORGE_REDIS_DB", cfg.RedisDB)
	cfg.RedisPoolSize = getEnvInt("PRDFORGE_REDIS_POOL_SIZE", cfg.RedisPoolSize)

	return cfg
}

func loadLLMConfig() LLMConfig {
	return LLMConfig{
		APIKey:    getEnv("PRDFORGE_ANTHROPIC_API_KEY", ""),
		BaseURL:   getEnv("PRDFORGE_ANTHROPIC_BASE_URL", ""),
		Model:     getEnv("PRDFORGE_ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		MaxTokens: getEnvInt64("PRDFORGE_ANTHROPIC_MAX_TOKENS", 8192),
		Timeout:   getEnvDuration("PRDFORGE_ANTHROPIC_TIMEOUT", 5*time.Minute),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		OIDCIssuer:     getEnv("PRDFORGE_OIDC_ISSUER", ""),
		OIDCClientID:   getEnv("PRDFORGE_OIDC_CLIENT_ID", ""),
		TokenCacheSize: getEnvInt("PRDFORGE_TOKEN_CACHE_SIZE", 1024),
		TokenCacheTTL:  getEnvDuration("PRDFORGE_TOKEN_CACHE_TTL", time.Minute),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		WebhookSecret: getEnv("PRDFORGE_LEMONSQUEEZY_WEBHOOK_SECRET", ""),
		CatalogPath:   getEnv("PRDFORGE_CATALOG_PATH", "catalog.yaml"),
	}
}

func loadCreditsConfig() CreditsConfig {
	return CreditsConfig{
		SignupBonus:          getEnvInt64("PRDFORGE_SIGNUP_BONUS_CREDITS", 1),
		GenerationCost:       getEnvInt64("PRDFORGE_GENERATION_COST", 1),
		RevisionCost:         getEnvInt64("PRDFORGE_REVISION_COST", 1),
		ReconcileSchedule:    getEnv("PRDFORGE_RECONCILE_SCHEDULE", "@every 1m"),
		ReconcileMaxAttempts: getEnvInt("PRDFORGE_RECONCILE_MAX_ATTEMPTS", 10),
		ReconcileBatchSize:   getEnvInt("PRDFORGE_RECONCILE_BATCH_SIZE", 50),
		InvitationCleanup:    getEnv("PRDFORGE_INVITATION_CLEANUP_SCHEDULE", "@daily"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("PRDFORGE_RATE_LIMIT_ENABLED", true),
		GenerationsPerMin: getEnvInt("PRDFORGE_GENERATIONS_PER_MINUTE", 10),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("PRDFORGE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PRDFORGE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PRDFORGE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PRDFORGE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PRDFORGE_OTEL_SERVICE_NAME", "prdforge"),
		OTelServiceVersion: getEnv("PRDFORGE_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("PRDFORGE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("PRDFORGE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid for the API server
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.HealthPort == "" {
		errs = append(errs, errors.New("health port is required"))
	}
	if c.Server.Port != "" && c.Server.Port == c.Server.HealthPort {
		errs = append(errs, errors.New("server port and health port must be different"))
	}

	if c.Storage.PostgresURL == "" {
		errs = append(errs, errors.New("PRDFORGE_DATABASE_URL is required"))
	}
	if c.Storage.PostgresMinConns > c.Storage.PostgresMaxConns {
		errs = append(errs, errors.New("database min conns must not exceed max conns"))
	}

	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("PRDFORGE_ANTHROPIC_API_KEY is required"))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("LLM max tokens must be positive"))
	}

	if c.Auth.OIDCIssuer == "" {
		errs = append(errs, errors.New("PRDFORGE_OIDC_ISSUER is required"))
	}
	if c.Billing.WebhookSecret == "" {
		errs = append(errs, errors.New("PRDFORGE_LEMONSQUEEZY_WEBHOOK_SECRET is required"))
	}

	if c.Credits.GenerationCost <= 0 || c.Credits.RevisionCost <= 0 {
		errs = append(errs, errors.New("generation and revision costs must be positive"))
	}
	if c.Credits.SignupBonus < 0 {
		errs = append(errs, errors.New("signup bonus must not be negative"))
	}

	if c.RateLimit.Enabled && c.RateLimit.GenerationsPerMin <= 0 {
		errs = append(errs, errors.New("generations per minute must be positive when rate limiting is enabled"))
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

// ValidateWorker checks only what the reconciler and admin binaries need
func (c *Config) ValidateWorker() error {
	if c.Storage.PostgresURL == "" {
		return errors.New("PRDFORGE_DATABASE_URL is required")
	}
	if c.Credits.ReconcileMaxAttempts <= 0 {
		return errors.New("reconcile max attempts must be positive")
	}
	return nil
}

// LoadWorkerConfig loads configuration for batch binaries, skipping server-only checks
func LoadWorkerConfig() (*Config, error) {
	cfg := &Config{
		Storage:       loadStorageConfig(),
		Credits:       loadCreditsConfig(),
		Observability: loadObservabilityConfig(),
	}
	if err := cfg.ValidateWorker(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float64 environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

// getEnvList splits a comma-separated environment variable, dropping blanks
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
