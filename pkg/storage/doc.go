// Package storage holds connection plumbing shared by every prdforge store.
//
// # Backends
//
//   - postgres.ConnectionManager: primary plus optional read replicas (lib/pq). All
//     credit RPCs and writes go to the primary. PRD list reads may go to a replica.
//   - NewRedisClient: go-redis client for the distributed rate limiter. Optional.
//   - objectstore.S3Client: the PRD markdown archive. Optional.
//
// # Configuration
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://localhost/prdforge?sslmode=disable"
//	cm, err := postgres.NewConnectionManager(postgres.ConfigFromStorage(cfg), logger)
//
// Domain tables and stored procedures live in pkg/migrations.
package storage
