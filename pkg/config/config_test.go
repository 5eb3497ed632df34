package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/prdforge/pkg/observability"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PRDFORGE_DATABASE_URL", "postgres://localhost/prdforge")
	t.Setenv("PRDFORGE_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("PRDFORGE_OIDC_ISSUER", "https://auth.example.com")
	t.Setenv("PRDFORGE_LEMONSQUEEZY_WEBHOOK_SECRET", "whsec")
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "custom")
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_DUR", "90s")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_LIST", " a, ,b ")

	assert.Equal(t, "custom", getEnv("TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("TEST_UNSET", "default"))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_BAD_INT", 7))
	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", 0))
	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, []string{"a", "b"}, getEnvList("TEST_LIST"))
	assert.Nil(t, getEnvList("TEST_UNSET"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 10*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, int64(1), cfg.Credits.SignupBonus)
	assert.Equal(t, int64(1), cfg.Credits.GenerationCost)
	assert.Equal(t, int64(1), cfg.Credits.RevisionCost)
	assert.Equal(t, "@every 1m", cfg.Credits.ReconcileSchedule)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Storage.ArchiveEnabled())
	assert.False(t, cfg.Storage.RedisEnabled())
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PRDFORGE_LOG_LEVEL", "debug")
	t.Setenv("PRDFORGE_S3_BUCKET", "prd-archive")
	t.Setenv("PRDFORGE_REDIS_URL", "redis://localhost:6379")
	t.Setenv("PRDFORGE_SIGNUP_BONUS_CREDITS", "3")
	t.Setenv("PRDFORGE_GENERATIONS_PER_MINUTE", "2")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Storage.ArchiveEnabled())
	assert.True(t, cfg.Storage.RedisEnabled())
	assert.Equal(t, int64(3), cfg.Credits.SignupBonus)
	assert.Equal(t, 2, cfg.RateLimit.GenerationsPerMin)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.Storage.PostgresURL = "" }, wantErr: "PRDFORGE_DATABASE_URL"},
		{name: "same ports", mutate: func(c *Config) { c.Server.HealthPort = c.Server.Port }, wantErr: "must be different"},
		{name: "missing api key", mutate: func(c *Config) { c.LLM.APIKey = "" }, wantErr: "ANTHROPIC_API_KEY"},
		{name: "zero cost", mutate: func(c *Config) { c.Credits.GenerationCost = 0 }, wantErr: "costs must be positive"},
		{name: "negative bonus", mutate: func(c *Config) { c.Credits.SignupBonus = -1 }, wantErr: "signup bonus"},
		{name: "otel without endpoint", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, wantErr: "endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			cfg, err := LoadConfig()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWorkerConfig(t *testing.T) {
	t.Setenv("PRDFORGE_DATABASE_URL", "")
	_, err := LoadWorkerConfig()
	assert.Error(t, err)

	t.Setenv("PRDFORGE_DATABASE_URL", "postgres://localhost/prdforge")
	cfg, err := LoadWorkerConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Credits.ReconcileMaxAttempts)
}
