package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/prdforge/pkg/httputil"
	"github.com/platinummonkey/prdforge/pkg/observability"
)

const defaultGenerationsPerMinute = 10

// RateLimitConfig is a budget of RequestsPerWindow per WindowDuration.
// BurstSize extra tokens only apply to the in-memory bucket.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
	BurstSize         int
}

// GenerationRateLimitConfig is the per-user budget for metered generations
func GenerationRateLimitConfig(perMinute int) *RateLimitConfig {
	if perMinute <= 0 {
		perMinute = defaultGenerationsPerMinute
	}
	return &RateLimitConfig{RequestsPerWindow: perMinute, WindowDuration: time.Minute}
}

// Decision is the outcome of one Take
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter spends one unit of key's budget per call
type Limiter interface {
	Take(ctx context.Context, key string) (Decision, error)
}

// RateLimiter is an in-process token bucket for single-instance deployments
type RateLimiter struct {
	config *RateLimitConfig
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = GenerationRateLimitConfig(0)
	}
	return &RateLimiter{config: config, now: time.Now, buckets: make(map[string]*bucket)}
}

func (rl *RateLimiter) capacity() float64 {
	return float64(rl.config.RequestsPerWindow + rl.config.BurstSize)
}

// perToken is how long the bucket takes to earn one token back
func (rl *RateLimiter) perToken() time.Duration {
	return rl.config.WindowDuration / time.Duration(rl.config.RequestsPerWindow)
}

func (rl *RateLimiter) Take(ctx context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.capacity(), seen: now}
		rl.buckets[key] = b
	}
	earned := now.Sub(b.seen).Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds()
	b.tokens = math.Min(rl.capacity(), b.tokens+earned)
	b.seen = now

	d := Decision{Limit: rl.config.RequestsPerWindow}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	} else {
		d.RetryAfter = time.Duration((1 - b.tokens) * float64(rl.perToken()))
	}
	d.Remaining = int(b.tokens)
	return d, nil
}

// Cleanup forgets buckets idle for two windows; they would be full anyway
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-2 * rl.config.WindowDuration)
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until ctx ends
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(rl.config.WindowDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}

// RateLimitMiddleware keys requests by user, or by client IP when anonymous.
// A limiter error lets the request through.
type RateLimitMiddleware struct {
	limiter Limiter
	route   string
	metrics *observability.Metrics
}

// NewRateLimitMiddleware wraps limiter; route labels the rejection counter
func NewRateLimitMiddleware(limiter Limiter, route string, metrics *observability.Metrics) *RateLimitMiddleware {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &RateLimitMiddleware{limiter: limiter, route: route, metrics: metrics}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := m.limiter.Take(r.Context(), limitKey(r))
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			m.metrics.RateLimitedTotal.WithLabelValues(m.route).Inc()
			h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitKey(r *http.Request) string {
	if authCtx := GetAuthContext(r); authCtx != nil && authCtx.User != nil {
		return "user:" + authCtx.User.ID.String()
	}
	return "ip:" + getClientIP(r)
}

func retryAfterSeconds(d time.Duration) int {
	if s := int(math.Ceil(d.Seconds())); s > 1 {
		return s
	}
	return 1
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP
func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
