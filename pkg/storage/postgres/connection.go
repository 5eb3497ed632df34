package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"

	"github.com/platinummonkey/prdforge/pkg/observability"
	"github.com/platinummonkey/prdforge/pkg/storage"
)

const (
	defaultPingTimeout   = 10 * time.Second
	defaultCheckInterval = 30 * time.Second
	replicaCheckTimeout  = 5 * time.Second
	minReplicaPool       = 2
)

// ConnectionConfig describes the primary and optional read replicas
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ConfigFromStorage maps storage.Config onto a ConnectionConfig
func ConfigFromStorage(cfg storage.Config) ConnectionConfig {
	return ConnectionConfig{
		PrimaryURL:  cfg.PostgresURL,
		ReplicaURLs: ParseReplicaURLs(cfg.PostgresReplicaURLs),
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
		MaxLifetime: cfg.PostgresMaxLifetime,
		MaxIdleTime: cfg.PostgresMaxIdleTime,
	}
}

// ParseReplicaURLs splits a comma-separated DSN list, dropping blanks
func ParseReplicaURLs(raw string) []string {
	var urls []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			urls = append(urls, part)
		}
	}
	return urls
}

// ConnectionManager owns the primary pool and any replica pools. Credit RPCs
// and all writes go to Primary; Replica is for lag-tolerant listings.
type ConnectionManager struct {
	primary *sql.DB
	logger  *observability.Logger
	config  ConnectionConfig

	mu       sync.RWMutex
	replicas []*sql.DB
	next     uint32
}

// NewConnectionManager opens the primary, failing if it is unreachable.
// Replicas that cannot be reached are logged and skipped.
func NewConnectionManager(ctx context.Context, config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	cm := &ConnectionManager{config: config, logger: logger}

	primary, err := cm.open(ctx, config.PrimaryURL, config.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary: %w", err)
	}
	cm.primary = primary

	replicaConns := config.MaxConns / 2
	if replicaConns < minReplicaPool {
		replicaConns = minReplicaPool
	}
	for i, url := range config.ReplicaURLs {
		db, err := cm.open(ctx, url, replicaConns)
		if err != nil {
			logger.WithError(err).WithField("replica", i).Warn("Skipping unreachable replica")
			continue
		}
		cm.replicas = append(cm.replicas, db)
	}

	logger.WithField("replicas", len(cm.replicas)).Info("Postgres pools ready")
	return cm, nil
}

// NewConnectionManagerFromDB wraps an open handle with no replicas
func NewConnectionManagerFromDB(db *sql.DB, logger *observability.Logger) *ConnectionManager {
	return &ConnectionManager{primary: db, logger: logger}
}

func (cm *ConnectionManager) open(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(cm.config.MinConns)
	db.SetConnMaxLifetime(cm.config.MaxLifetime)
	db.SetConnMaxIdleTime(cm.config.MaxIdleTime)

	timeout := cm.config.Timeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

func (cm *ConnectionManager) Primary() *sql.DB { return cm.primary }

// Replica picks replicas round robin, or returns the primary when none are left
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if len(cm.replicas) == 0 {
		return cm.primary
	}
	n := atomic.AddUint32(&cm.next, 1)
	return cm.replicas[n%uint32(len(cm.replicas))]
}

func (cm *ConnectionManager) replicaSnapshot() []*sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return append([]*sql.DB(nil), cm.replicas...)
}

// HealthCheck fails when the primary is down or when every replica is
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	replicas := cm.replicaSnapshot()
	if len(replicas) == 0 {
		return nil
	}
	var errs []error
	for i, db := range replicas {
		if err := db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d: %w", i, err))
		}
	}
	if len(errs) == len(replicas) {
		return fmt.Errorf("all replicas unhealthy: %w", errors.Join(errs...))
	}
	return nil
}

// RemoveUnhealthyReplicas closes replicas that fail a ping and reports how
// many were dropped
func (cm *ConnectionManager) RemoveUnhealthyReplicas(ctx context.Context) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	kept := cm.replicas[:0]
	removed := 0
	for _, db := range cm.replicas {
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			removed++
			continue
		}
		kept = append(kept, db)
	}
	cm.replicas = kept
	return removed
}

// ReportStats publishes primary pool usage
func (cm *ConnectionManager) ReportStats(metrics *observability.Metrics) {
	stats := cm.primary.Stats()
	metrics.DBConnectionsActive.Set(float64(stats.InUse))
	metrics.DBConnectionsIdle.Set(float64(stats.Idle))
}

// StartHealthCheckRoutine prunes dead replicas and publishes pool stats
// every interval until ctx ends
func (cm *ConnectionManager) StartHealthCheckRoutine(ctx context.Context, interval time.Duration, metrics *observability.Metrics) {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	go func() {
		defer observability.RecoverPanic(cm.logger, "postgres health check routine")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cm.tick(ctx, metrics)
			}
		}
	}()
}

func (cm *ConnectionManager) tick(ctx context.Context, metrics *observability.Metrics) {
	checkCtx, cancel := context.WithTimeout(ctx, replicaCheckTimeout)
	defer cancel()

	if removed := cm.RemoveUnhealthyReplicas(checkCtx); removed > 0 {
		cm.logger.WithField("removed", removed).Warn("Dropped unhealthy replicas")
	}
	if metrics != nil {
		cm.ReportStats(metrics)
	}
}

// Close closes every pool and joins the errors
func (cm *ConnectionManager) Close() error {
	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}

	cm.mu.Lock()
	replicas := cm.replicas
	cm.replicas = nil
	cm.mu.Unlock()

	for i, db := range replicas {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
