//go:build integration

package credits

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/prdforge/pkg/migrations"
)

func TestPostgresLedger_ConcurrentDeductsNeverOverdraw(t *testing.T) {
	db := migrations.SetupPostgresContainer(t)
	ctx := context.Background()
	ledger := NewPostgresLedger(db, nil)

	userID := uuid.New()
	_, err := db.ExecContext(ctx, "INSERT INTO profiles (id, credits) VALUES ($1, 5)", userID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.Deduct(ctx, PersonalPool(userID), 1, "generation")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, ErrInsufficientCredits) {
				insufficient++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 15, insufficient)

	balance, err := ledger.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Personal)

	txs, err := ledger.Transactions(ctx, PersonalPool(userID), 100)
	require.NoError(t, err)
	assert.Len(t, txs, 5)
}

func TestPostgresLedger_WorkspaceRoundTrip(t *testing.T) {
	db := migrations.SetupPostgresContainer(t)
	ctx := context.Background()
	ledger := NewPostgresLedger(db, nil)

	owner, stranger, wsID := uuid.New(), uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{owner, stranger} {
		_, err := db.ExecContext(ctx, "INSERT INTO profiles (id) VALUES ($1)", id)
		require.NoError(t, err)
	}
	_, err := db.ExecContext(ctx, "INSERT INTO workspaces (id, name, slug, owner_id) VALUES ($1, 'Acme', 'acme', $2)", wsID, owner)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, 'owner')", wsID, owner)
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.Grant(ctx, tx, WorkspacePool(wsID, uuid.Nil), 3, "purchase:1"))
	require.NoError(t, tx.Commit())

	require.NoError(t, ledger.Deduct(ctx, WorkspacePool(wsID, owner), 1, "generation"))
	assert.ErrorIs(t, ledger.Deduct(ctx, WorkspacePool(wsID, stranger), 1, "generation"), ErrNotWorkspaceMember)

	credits, err := ledger.WorkspaceBalance(ctx, wsID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), credits)

	balance, err := ledger.Balance(ctx, owner)
	require.NoError(t, err)
	require.Len(t, balance.Workspaces, 1)
	assert.Equal(t, int64(2), balance.Workspaces[0].Credits)
}

func TestReconciliationStore_Lifecycle(t *testing.T) {
	db := migrations.SetupPostgresContainer(t)
	ctx := context.Background()
	ledger := NewPostgresLedger(db, nil)
	store := NewPostgresReconciliationStore(db)

	userID := uuid.New()
	_, err := db.ExecContext(ctx, "INSERT INTO profiles (id) VALUES ($1)", userID)
	require.NoError(t, err)

	rec, err := store.RecordFailedRefund(ctx, PersonalPool(userID), 1, "refund:generation", "db blip")
	require.NoError(t, err)

	r := NewReconciler(ledger, store, nil, ReconcilerConfig{}, nil, nil)
	report, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, ReconciliationResolved, got.Status)
	assert.NotNil(t, got.ResolvedAt)

	balance, err := ledger.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance.Personal)
}
