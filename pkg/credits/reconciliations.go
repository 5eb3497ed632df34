package credits

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReconciliationStore persists refunds that could not be applied
type ReconciliationStore interface {
	RecordFailedRefund(ctx context.Context, pool Pool, amount int64, reason, cause string) (*Reconciliation, error)
	Get(ctx context.Context, id int64) (*Reconciliation, error)
	// ListPending returns pending rows whose next attempt is due
	ListPending(ctx context.Context, limit int) ([]*Reconciliation, error)
	// List returns rows in the given status, newest first; empty status means all
	List(ctx context.Context, status ReconciliationStatus, limit int) ([]*Reconciliation, error)
	CountPending(ctx context.Context) (int, error)
	MarkResolved(ctx context.Context, id int64, note string) error
	// Settle claims an unresolved row and runs refund in the same
	// transaction. The row stays unresolved when refund or the commit fails.
	Settle(ctx context.Context, id int64, note string, refund SettleFunc) error
	MarkAttempt(ctx context.Context, id int64, attemptErr error, nextAttemptAt time.Time) error
	MarkManual(ctx context.Context, id int64, lastErr string) error
}

// SettleFunc applies a refund inside the settling transaction
type SettleFunc func(ctx context.Context, tx *sql.Tx) error

// PostgresReconciliationStore implements ReconciliationStore
type PostgresReconciliationStore struct {
	db *sql.DB
}

// NewPostgresReconciliationStore creates a reconciliation store
func NewPostgresReconciliationStore(db *sql.DB) *PostgresReconciliationStore {
	return &PostgresReconciliationStore{db: db}
}

const reconciliationColumns = `id, pool_kind, user_id, workspace_id, amount, reason, cause, status,
	attempts, last_error, next_attempt_at, note, created_at, updated_at, resolved_at`

// RecordFailedRefund inserts a pending reconciliation due immediately
func (s *PostgresReconciliationStore) RecordFailedRefund(ctx context.Context, pool Pool, amount int64, reason, cause string) (*Reconciliation, error) {
	query := `
		INSERT INTO credit_reconciliations (pool_kind, user_id, workspace_id, amount, reason, cause)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + reconciliationColumns

	row := s.db.QueryRowContext(ctx, query, pool.Kind, pool.UserID, workspaceArg(pool), amount, reason, cause)
	rec, err := scanReconciliation(row)
	if err != nil {
		return nil, fmt.Errorf("failed to record reconciliation: %w", err)
	}
	return rec, nil
}

// Get returns a single reconciliation
func (s *PostgresReconciliationStore) Get(ctx context.Context, id int64) (*Reconciliation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+reconciliationColumns+" FROM credit_reconciliations WHERE id = $1", id)
	rec, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return nil, ErrReconciliationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reconciliation: %w", err)
	}
	return rec, nil
}

// ListPending returns due pending rows, oldest first
func (s *PostgresReconciliationStore) ListPending(ctx context.Context, limit int) ([]*Reconciliation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reconciliationColumns+`
		FROM credit_reconciliations
		WHERE status = 'pending' AND next_attempt_at <= NOW()
		ORDER BY next_attempt_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reconciliations: %w", err)
	}
	defer rows.Close()

	return scanReconciliations(rows)
}

// List returns reconciliations for operators
func (s *PostgresReconciliationStore) List(ctx context.Context, status ReconciliationStatus, limit int) ([]*Reconciliation, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+reconciliationColumns+" FROM credit_reconciliations ORDER BY id DESC LIMIT $1", limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+reconciliationColumns+" FROM credit_reconciliations WHERE status = $1 ORDER BY id DESC LIMIT $2",
			status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	defer rows.Close()

	return scanReconciliations(rows)
}

// CountPending returns the number of unsettled reconciliations
func (s *PostgresReconciliationStore) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM credit_reconciliations WHERE status = 'pending'").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reconciliations: %w", err)
	}
	return n, nil
}

// MarkResolved settles a reconciliation
func (s *PostgresReconciliationStore) MarkResolved(ctx context.Context, id int64, note string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE credit_reconciliations
		SET status = 'resolved', note = $2, resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status <> 'resolved'
	`, id, note)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation: %w", err)
	}
	return requireRow(result)
}

// Settle resolves id and refunds in one transaction. The claiming UPDATE
// locks the row, so a concurrent settler waits and then finds it resolved.
func (s *PostgresReconciliationStore) Settle(ctx context.Context, id int64, note string, refund SettleFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE credit_reconciliations
		SET status = 'resolved', note = $2, resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status <> 'resolved'
	`, id, note)
	if err != nil {
		return fmt.Errorf("failed to claim reconciliation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrReconciliationSettled
	}

	if err := refund(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	return nil
}

// MarkAttempt records a failed retry and schedules the next one
func (s *PostgresReconciliationStore) MarkAttempt(ctx context.Context, id int64, attemptErr error, nextAttemptAt time.Time) error {
	msg := ""
	if attemptErr != nil {
		msg = attemptErr.Error()
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE credit_reconciliations
		SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, msg, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("failed to record reconciliation attempt: %w", err)
	}
	return requireRow(result)
}

// MarkManual hands a reconciliation to operators
func (s *PostgresReconciliationStore) MarkManual(ctx context.Context, id int64, lastErr string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE credit_reconciliations
		SET status = 'manual', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, lastErr)
	if err != nil {
		return fmt.Errorf("failed to mark reconciliation manual: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrReconciliationNotFound
	}
	return nil
}

func workspaceArg(pool Pool) interface{} {
	if pool.Kind == PoolWorkspace && pool.WorkspaceID != nil {
		return *pool.WorkspaceID
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReconciliation(row rowScanner) (*Reconciliation, error) {
	var r Reconciliation
	var kind string
	var workspaceID uuid.NullUUID
	var resolvedAt sql.NullTime
	err := row.Scan(&r.ID, &kind, &r.Pool.UserID, &workspaceID, &r.Amount, &r.Reason, &r.Cause, &r.Status,
		&r.Attempts, &r.LastError, &r.NextAttemptAt, &r.Note, &r.CreatedAt, &r.UpdatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	r.Pool.Kind = PoolKind(kind)
	r.Pool.WorkspaceID = nullToPtr(workspaceID)
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}
	return &r, nil
}

func scanReconciliations(rows *sql.Rows) ([]*Reconciliation, error) {
	var recs []*Reconciliation
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
