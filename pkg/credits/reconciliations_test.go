package credits

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reconciliationCols = []string{
	"id", "pool_kind", "user_id", "workspace_id", "amount", "reason", "cause", "status",
	"attempts", "last_error", "next_attempt_at", "note", "created_at", "updated_at", "resolved_at",
}

func newReconciliationStore(t *testing.T) (*PostgresReconciliationStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresReconciliationStore(db), mock
}

func TestReconciliationStore_RecordFailedRefund(t *testing.T) {
	store, mock := newReconciliationStore(t)
	userID, wsID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO credit_reconciliations").
		WithArgs(PoolWorkspace, userID, wsID, int64(1), "refund:generation", "llm timeout").
		WillReturnRows(sqlmock.NewRows(reconciliationCols).AddRow(
			int64(7), "workspace", userID.String(), wsID.String(), int64(1), "refund:generation", "llm timeout", "pending",
			0, "", now, "", now, now, nil))

	rec, err := store.RecordFailedRefund(context.Background(), WorkspacePool(wsID, userID), 1, "refund:generation", "llm timeout")
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, PoolWorkspace, rec.Pool.Kind)
	require.NotNil(t, rec.Pool.WorkspaceID)
	assert.Equal(t, wsID, *rec.Pool.WorkspaceID)
	assert.Equal(t, ReconciliationPending, rec.Status)
	assert.Nil(t, rec.ResolvedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationStore_RecordPersonalUsesNullWorkspace(t *testing.T) {
	store, mock := newReconciliationStore(t)
	userID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO credit_reconciliations").
		WithArgs(PoolPersonal, userID, nil, int64(1), "refund:revision", "save failed").
		WillReturnRows(sqlmock.NewRows(reconciliationCols).AddRow(
			int64(8), "personal", userID.String(), nil, int64(1), "refund:revision", "save failed", "pending",
			0, "", now, "", now, now, nil))

	rec, err := store.RecordFailedRefund(context.Background(), PersonalPool(userID), 1, "refund:revision", "save failed")
	require.NoError(t, err)
	assert.Nil(t, rec.Pool.WorkspaceID)
}

func TestReconciliationStore_Get(t *testing.T) {
	store, mock := newReconciliationStore(t)

	mock.ExpectQuery("FROM credit_reconciliations WHERE id = \\$1").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrReconciliationNotFound)
}

func TestReconciliationStore_ListPending(t *testing.T) {
	store, mock := newReconciliationStore(t)
	now := time.Now()
	resolved := now.Add(-time.Minute)

	mock.ExpectQuery("WHERE status = 'pending' AND next_attempt_at <= NOW\\(\\)").
		WithArgs(25).
		WillReturnRows(sqlmock.NewRows(reconciliationCols).
			AddRow(int64(1), "personal", uuid.NewString(), nil, int64(1), "r", "c", "pending", 2, "boom", now, "", now, now, nil).
			AddRow(int64(2), "personal", uuid.NewString(), nil, int64(1), "r", "c", "pending", 0, "", now, "", now, now, resolved))

	recs, err := store.ListPending(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, recs[0].Attempts)
	assert.NotNil(t, recs[1].ResolvedAt)
}

func TestReconciliationStore_List(t *testing.T) {
	store, mock := newReconciliationStore(t)

	mock.ExpectQuery("WHERE status = \\$1").
		WithArgs(ReconciliationManual, 100).
		WillReturnRows(sqlmock.NewRows(reconciliationCols))
	mock.ExpectQuery("FROM credit_reconciliations ORDER BY id DESC").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(reconciliationCols))

	_, err := store.List(context.Background(), ReconciliationManual, 0)
	require.NoError(t, err)
	_, err = store.List(context.Background(), "", 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationStore_Marks(t *testing.T) {
	store, mock := newReconciliationStore(t)
	next := time.Now().Add(time.Minute)

	mock.ExpectExec("SET status = 'resolved'").
		WithArgs(int64(1), "refunded").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET attempts = attempts \\+ 1, last_error").
		WithArgs(int64(2), "db down", next).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET status = 'manual'").
		WithArgs(int64(3), "gone").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET status = 'resolved'").
		WithArgs(int64(4), "dup").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.MarkResolved(context.Background(), 1, "refunded"))
	require.NoError(t, store.MarkAttempt(context.Background(), 2, errors.New("db down"), next))
	require.NoError(t, store.MarkManual(context.Background(), 3, "gone"))
	assert.ErrorIs(t, store.MarkResolved(context.Background(), 4, "dup"), ErrReconciliationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationStore_Settle(t *testing.T) {
	claim := "UPDATE credit_reconciliations\\s+SET status = 'resolved'"

	t.Run("claims then refunds in one transaction", func(t *testing.T) {
		store, mock := newReconciliationStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(claim).WithArgs(int64(7), "refunded").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		called := false
		err := store.Settle(context.Background(), 7, "refunded", func(ctx context.Context, tx *sql.Tx) error {
			called = true
			assert.NotNil(t, tx)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already resolved skips the refund", func(t *testing.T) {
		store, mock := newReconciliationStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(claim).WithArgs(int64(7), "refunded").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.Settle(context.Background(), 7, "refunded", func(ctx context.Context, tx *sql.Tx) error {
			t.Fatal("refund must not run for a settled row")
			return nil
		})
		assert.ErrorIs(t, err, ErrReconciliationSettled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refund failure rolls back the claim", func(t *testing.T) {
		store, mock := newReconciliationStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(claim).WithArgs(int64(7), "refunded").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		errDown := errors.New("db down")
		err := store.Settle(context.Background(), 7, "refunded", func(ctx context.Context, tx *sql.Tx) error {
			return errDown
		})
		assert.ErrorIs(t, err, errDown)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claim failure", func(t *testing.T) {
		store, mock := newReconciliationStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(claim).WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := store.Settle(context.Background(), 7, "refunded", func(ctx context.Context, tx *sql.Tx) error {
			t.Fatal("refund must not run without a claim")
			return nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to claim reconciliation")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReconciliationStore_CountPending(t *testing.T) {
	store, mock := newReconciliationStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM credit_reconciliations").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
