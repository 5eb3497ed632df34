package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	t.Run("connects", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RedisURL = "redis://" + mr.Addr()

		client, err := NewRedisClient(context.Background(), cfg)
		require.NoError(t, err)
		defer client.Close()

		require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
		got, err := mr.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("invalid url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RedisURL = "://nope"
		_, err := NewRedisClient(context.Background(), cfg)
		assert.Error(t, err)
	})

	t.Run("unreachable", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RedisURL = "redis://127.0.0.1:1"
		cfg.RedisMaxRetries = 1
		_, err := NewRedisClient(context.Background(), cfg)
		assert.Error(t, err)
	})
}

func TestConfigToggles(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.ArchiveEnabled())
	assert.False(t, cfg.RedisEnabled())

	cfg.S3Bucket = "prds"
	cfg.RedisURL = "redis://localhost:6379"
	assert.True(t, cfg.ArchiveEnabled())
	assert.True(t, cfg.RedisEnabled())
}
