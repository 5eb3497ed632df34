package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/prdforge/pkg/observability"
)

// Ledger moves credits exclusively through the database RPCs
type Ledger interface {
	// Deduct atomically charges amount to the pool. It returns
	// ErrInsufficientCredits without charging when the balance is too low.
	Deduct(ctx context.Context, pool Pool, amount int64, reason string) error
	// Refund atomically credits amount back to the pool
	Refund(ctx context.Context, pool Pool, amount int64, reason string) error
	// Grant credits the pool inside the caller's transaction
	Grant(ctx context.Context, tx *sql.Tx, pool Pool, amount int64, reason string) error
	Balance(ctx context.Context, userID uuid.UUID) (*Balance, error)
	WorkspaceBalance(ctx context.Context, workspaceID uuid.UUID) (int64, error)
	Transactions(ctx context.Context, pool Pool, limit int) ([]*Transaction, error)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresLedger implements Ledger on top of the credit stored procedures
type PostgresLedger struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewPostgresLedger creates a ledger. A nil metrics value disables metrics.
func NewPostgresLedger(db *sql.DB, metrics *observability.Metrics) *PostgresLedger {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &PostgresLedger{db: db, metrics: metrics}
}

// Deduct charges the pool through deduct_credit or deduct_workspace_credit
func (l *PostgresLedger) Deduct(ctx context.Context, pool Pool, amount int64, reason string) (err error) {
	ctx, span := observability.StartSpan(ctx, "credits.Deduct",
		attribute.String("pool", string(pool.Kind)), attribute.Int64("amount", amount))
	defer func() { observability.EndSpan(span, err) }()

	if err := validate(pool, amount); err != nil {
		return err
	}

	var ok bool
	switch pool.Kind {
	case PoolWorkspace:
		err = l.db.QueryRowContext(ctx, "SELECT deduct_workspace_credit($1, $2, $3, $4)",
			*pool.WorkspaceID, pool.UserID, amount, reason).Scan(&ok)
	default:
		err = l.db.QueryRowContext(ctx, "SELECT deduct_credit($1, $2, $3)",
			pool.UserID, amount, reason).Scan(&ok)
	}
	if err != nil {
		return fmt.Errorf("failed to deduct credits: %w", mapRPCError(err))
	}
	if !ok {
		return ErrInsufficientCredits
	}

	l.metrics.CreditsDeductedTotal.WithLabelValues(string(pool.Kind)).Add(float64(amount))
	return nil
}

// Refund returns credits to the pool
func (l *PostgresLedger) Refund(ctx context.Context, pool Pool, amount int64, reason string) (err error) {
	ctx, span := observability.StartSpan(ctx, "credits.Refund",
		attribute.String("pool", string(pool.Kind)), attribute.Int64("amount", amount))
	defer func() { observability.EndSpan(span, err) }()

	if err := validate(pool, amount); err != nil {
		return err
	}

	if _, err := add(ctx, l.db, pool, amount, reason); err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}

	l.metrics.CreditsRefundedTotal.WithLabelValues(string(pool.Kind)).Add(float64(amount))
	return nil
}

// Grant credits the pool using tx so the caller can commit it together with
// other writes
func (l *PostgresLedger) Grant(ctx context.Context, tx *sql.Tx, pool Pool, amount int64, reason string) error {
	if err := validate(pool, amount); err != nil {
		return err
	}

	if _, err := add(ctx, tx, pool, amount, reason); err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	l.metrics.CreditsGrantedTotal.WithLabelValues(string(pool.Kind), grantSource(reason)).Add(float64(amount))
	return nil
}

func add(ctx context.Context, q queryRower, pool Pool, amount int64, reason string) (int64, error) {
	var balance int64
	var err error
	switch pool.Kind {
	case PoolWorkspace:
		var actor interface{}
		if pool.UserID != uuid.Nil {
			actor = pool.UserID
		}
		err = q.QueryRowContext(ctx, "SELECT add_workspace_credit($1, $2, $3, $4)",
			*pool.WorkspaceID, amount, reason, actor).Scan(&balance)
	default:
		err = q.QueryRowContext(ctx, "SELECT add_credit($1, $2, $3)",
			pool.UserID, amount, reason).Scan(&balance)
	}
	if err != nil {
		return 0, mapRPCError(err)
	}
	return balance, nil
}

// Balance returns the personal balance and every workspace balance of the user
func (l *PostgresLedger) Balance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	balance := &Balance{UserID: userID, Workspaces: []WorkspaceBalance{}}

	err := l.db.QueryRowContext(ctx, "SELECT credits FROM profiles WHERE id = $1", userID).Scan(&balance.Personal)
	if err == sql.ErrNoRows {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT w.id, w.name, m.role, w.credits
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var wb WorkspaceBalance
		if err := rows.Scan(&wb.WorkspaceID, &wb.Name, &wb.Role, &wb.Credits); err != nil {
			return nil, fmt.Errorf("failed to scan workspace balance: %w", err)
		}
		balance.Workspaces = append(balance.Workspaces, wb)
	}

	return balance, rows.Err()
}

// WorkspaceBalance returns the shared balance of a workspace
func (l *PostgresLedger) WorkspaceBalance(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	var credits int64
	err := l.db.QueryRowContext(ctx, "SELECT credits FROM workspaces WHERE id = $1", workspaceID).Scan(&credits)
	if err == sql.ErrNoRows {
		return 0, ErrPoolNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get workspace balance: %w", err)
	}
	return credits, nil
}

// Transactions returns the most recent ledger rows of a pool
func (l *PostgresLedger) Transactions(ctx context.Context, pool Pool, limit int) ([]*Transaction, error) {
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	column, id := "user_id", pool.UserID
	if pool.Kind == PoolWorkspace {
		column, id = "workspace_id", *pool.WorkspaceID
	}

	query := `
		SELECT id, user_id, workspace_id, actor_id, amount, balance_after, reason, created_at
		FROM credit_transactions
		WHERE ` + column + ` = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := []*Transaction{}
	for rows.Next() {
		var t Transaction
		var userID, workspaceID, actorID uuid.NullUUID
		if err := rows.Scan(&t.ID, &userID, &workspaceID, &actorID, &t.Amount, &t.BalanceAfter, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.UserID = nullToPtr(userID)
		t.WorkspaceID = nullToPtr(workspaceID)
		t.ActorID = nullToPtr(actorID)
		txs = append(txs, &t)
	}

	return txs, rows.Err()
}

// grantSource keeps the metric label bounded: "purchase:order_1" -> "purchase"
func grantSource(reason string) string {
	if i := strings.IndexByte(reason, ':'); i > 0 {
		return reason[:i]
	}
	return reason
}

func validate(pool Pool, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return pool.Validate()
}

// mapRPCError translates the SQLSTATEs raised by the credit procedures
func mapRPCError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "42501":
		return ErrNotWorkspaceMember
	case "P0002":
		return ErrPoolNotFound
	case "23514":
		return ErrInvalidAmount
	}
	return err
}

func nullToPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}
