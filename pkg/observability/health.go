package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

// DependencyCheck probes one dependency and returns nil when it is usable
type DependencyCheck func(ctx context.Context) error

// HealthStatus is the /readyz response body
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of a single probe
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type probe struct {
	name     string
	check    DependencyCheck
	critical bool
}

// HealthChecker reports liveness and readiness. Postgres is critical: when it
// is down the service is unhealthy. Every other probe only degrades.
type HealthChecker struct {
	db      *sql.DB
	version string

	mu     sync.RWMutex
	probes []probe
}

// NewHealthChecker builds a checker; db and redisClient may be nil
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{db: db, version: version}
	if db != nil {
		h.probes = append(h.probes, probe{name: "database", check: h.pingDatabase, critical: true})
	}
	if redisClient != nil {
		h.probes = append(h.probes, probe{name: "redis", check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	return h
}

// AddCheck registers a non-critical probe
func (h *HealthChecker) AddCheck(name string, check DependencyCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe{name: name, check: check})
}

// Check runs every probe in turn
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := append([]probe(nil), h.probes...)
	h.mu.RUnlock()

	result := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(probes)),
	}
	for _, p := range probes {
		dep := runProbe(ctx, p.check)
		if p.name == "database" && dep.Status == StatusHealthy {
			dep = h.poolPressure(dep)
		}
		result.Dependencies[p.name] = dep
		result.Status = worst(result.Status, effective(dep.Status, p.critical))
	}
	return result
}

func (h *HealthChecker) pingDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}
	var one int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (h *HealthChecker) poolPressure(dep DependencyStatus) DependencyStatus {
	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		dep.Status = StatusDegraded
		dep.Message = "connection pool exhausted"
	}
	return dep
}

func runProbe(ctx context.Context, check DependencyCheck) DependencyStatus {
	start := time.Now()
	err := check(ctx)
	dep := DependencyStatus{Status: StatusHealthy, Latency: time.Since(start), Timestamp: start}
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}

// effective caps a non-critical failure at degraded
func effective(status string, critical bool) string {
	if status == StatusUnhealthy && !critical {
		return StatusDegraded
	}
	return status
}

var severity = map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

func worst(a, b string) string {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// Names returns the registered probe names, sorted
func (h *HealthChecker) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.probes))
	for _, p := range h.probes {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

// Liveness always answers 200 while the process can serve HTTP
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now(), Version: h.version})
}

// Readiness answers 503 only when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes mounts /healthz and /readyz
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
}
