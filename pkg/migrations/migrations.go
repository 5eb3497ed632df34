package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// advisoryLockKey serializes concurrent Run calls from several replicas
const advisoryLockKey int64 = 0x70726466 // "prdf"

// GetMigrations returns all migrations in version order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS profiles (
					id UUID PRIMARY KEY,
					email VARCHAR(320) NOT NULL DEFAULT '',
					credits BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_profiles_email ON profiles(lower(email));
			`,
		},
		{
			Version:     2,
			Description: "Create workspaces and membership tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspaces (
					id UUID PRIMARY KEY,
					name VARCHAR(100) NOT NULL,
					slug VARCHAR(120) NOT NULL UNIQUE,
					owner_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					credits BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_workspaces_owner_id ON workspaces(owner_id);

				CREATE TABLE IF NOT EXISTS workspace_members (
					workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					role VARCHAR(20) NOT NULL CHECK (role IN ('owner', 'member')),
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (workspace_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_workspace_members_user_id ON workspace_members(user_id);

				CREATE TABLE IF NOT EXISTS workspace_invitations (
					id UUID PRIMARY KEY,
					workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					email VARCHAR(320) NOT NULL,
					role VARCHAR(20) NOT NULL CHECK (role IN ('owner', 'member')),
					token VARCHAR(128) NOT NULL UNIQUE,
					invited_by UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					expires_at TIMESTAMPTZ NOT NULL,
					accepted_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_workspace_invitations_workspace_id ON workspace_invitations(workspace_id);
				CREATE INDEX IF NOT EXISTS idx_workspace_invitations_expires_at ON workspace_invitations(expires_at);
			`,
		},
		{
			Version:     3,
			Description: "Create PRD and revision tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS prds (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					workspace_id UUID REFERENCES workspaces(id) ON DELETE CASCADE,
					title VARCHAR(200) NOT NULL,
					idea TEXT NOT NULL,
					template VARCHAR(50) NOT NULL,
					language VARCHAR(35) NOT NULL,
					content TEXT NOT NULL,
					version INT NOT NULL DEFAULT 1,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_prds_user_id ON prds(user_id, updated_at DESC);
				CREATE INDEX IF NOT EXISTS idx_prds_workspace_id ON prds(workspace_id, updated_at DESC);

				CREATE TABLE IF NOT EXISTS prd_revisions (
					id BIGSERIAL PRIMARY KEY,
					prd_id UUID NOT NULL REFERENCES prds(id) ON DELETE CASCADE,
					version INT NOT NULL,
					content TEXT NOT NULL,
					instruction TEXT NOT NULL DEFAULT '',
					created_by UUID REFERENCES profiles(id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (prd_id, version)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create credit ledger and reconciliation tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS credit_transactions (
					id BIGSERIAL PRIMARY KEY,
					user_id UUID REFERENCES profiles(id) ON DELETE SET NULL,
					workspace_id UUID REFERENCES workspaces(id) ON DELETE SET NULL,
					actor_id UUID,
					amount BIGINT NOT NULL,
					balance_after BIGINT NOT NULL,
					reason VARCHAR(200) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_id ON credit_transactions(user_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_credit_transactions_workspace_id ON credit_transactions(workspace_id, created_at DESC);

				CREATE TABLE IF NOT EXISTS credit_reconciliations (
					id BIGSERIAL PRIMARY KEY,
					pool_kind VARCHAR(20) NOT NULL CHECK (pool_kind IN ('personal', 'workspace')),
					user_id UUID NOT NULL,
					workspace_id UUID,
					amount BIGINT NOT NULL CHECK (amount > 0),
					reason VARCHAR(200) NOT NULL,
					cause TEXT NOT NULL DEFAULT '',
					status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'resolved', 'manual')),
					attempts INT NOT NULL DEFAULT 0,
					last_error TEXT NOT NULL DEFAULT '',
					next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					note TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					resolved_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_credit_reconciliations_pending
					ON credit_reconciliations(next_attempt_at) WHERE status = 'pending';
			`,
		},
		{
			Version:     5,
			Description: "Create credit stored procedures",
			SQL:         creditProcedures,
		},
		{
			Version:     6,
			Description: "Create billing tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS webhook_events (
					event_key VARCHAR(255) PRIMARY KEY,
					event_name VARCHAR(100) NOT NULL,
					outcome VARCHAR(50) NOT NULL DEFAULT 'processed',
					received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS purchases (
					id BIGSERIAL PRIMARY KEY,
					order_id VARCHAR(100) NOT NULL UNIQUE,
					user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					workspace_id UUID REFERENCES workspaces(id) ON DELETE SET NULL,
					variant_id VARCHAR(100) NOT NULL,
					credits BIGINT NOT NULL DEFAULT 0,
					status VARCHAR(30) NOT NULL,
					total_cents BIGINT NOT NULL DEFAULT 0,
					currency VARCHAR(10) NOT NULL DEFAULT 'USD',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					refunded_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id, created_at DESC);

				CREATE TABLE IF NOT EXISTS subscriptions (
					id BIGSERIAL PRIMARY KEY,
					subscription_id VARCHAR(100) NOT NULL UNIQUE,
					user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					workspace_id UUID REFERENCES workspaces(id) ON DELETE SET NULL,
					variant_id VARCHAR(100) NOT NULL,
					status VARCHAR(30) NOT NULL,
					renews_at TIMESTAMPTZ,
					ends_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id, updated_at DESC);
			`,
		},
		{
			Version:     7,
			Description: "Create api_tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_tokens (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					name VARCHAR(100) NOT NULL,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(16) NOT NULL,
					scopes TEXT[] NOT NULL DEFAULT '{}',
					expires_at TIMESTAMPTZ,
					last_used_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_api_tokens_user_id ON api_tokens(user_id);
			`,
		},
	}
}

// Run applies pending migrations, each in its own transaction, under a
// Postgres advisory lock. It returns the versions it applied.
func Run(ctx context.Context, db *sql.DB) ([]int, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", advisoryLockKey) //nolint:errcheck

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	var ran []int
	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return ran, fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return ran, fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return ran, fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return ran, fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		ran = append(ran, migration.Version)
	}

	return ran, nil
}

// Pending returns migrations not yet recorded in schema_migrations
func Pending(ctx context.Context, db *sql.DB) ([]Migration, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, m := range GetMigrations() {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int]bool, error) {
	rows, err := conn.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
