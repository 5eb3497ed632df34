package credits

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{})
	assert.Equal(t, 10, p.MaxAttempts())
	assert.Equal(t, 30*time.Second, p.NextRetryDelay(0))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3})
	err := errors.New("db down")

	assert.False(t, p.ShouldRetry(1, nil))
	assert.True(t, p.ShouldRetry(1, err))
	assert.True(t, p.ShouldRetry(2, err))
	assert.False(t, p.ShouldRetry(3, err))
}

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxAttempts:       10,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.NextRetryDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestRetryPolicy_NextRetryTime(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{InitialDelay: time.Minute})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	assert.Equal(t, fixed.Add(time.Minute), p.NextRetryTime(1))
}
