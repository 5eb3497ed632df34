package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/prdforge/pkg/credits"
)

func TestCreditHandlers_Templates(t *testing.T) {
	w := doRequest(t, NewServer(testDeps()), "GET", "/api/v1/templates", readerToken, nil)
	assertStatus(t, w, http.StatusOK)

	var body struct {
		Templates []struct {
			Name     string   `json:"name"`
			Sections []string `json:"sections"`
		} `json:"templates"`
		Costs costsResponse `json:"costs"`
	}
	decodeBody(t, w, &body)
	require.Len(t, body.Templates, 3)
	assert.Equal(t, "lean", body.Templates[0].Name)
	assert.NotEmpty(t, body.Templates[0].Sections)
	assert.Equal(t, costsResponse{Generation: 2, Revision: 1}, body.Costs)
	assert.NotContains(t, w.Body.String(), "senior product manager")
}

func TestCreditHandlers_Balance(t *testing.T) {
	deps := testDeps()
	wsID := uuid.New()
	deps.Credits = &mockCredits{
		balanceFunc: func(ctx context.Context, userID uuid.UUID) (*credits.Balance, error) {
			return &credits.Balance{
				UserID:     userID,
				Personal:   4,
				Workspaces: []credits.WorkspaceBalance{{WorkspaceID: wsID, Name: "Team", Role: "member", Credits: 40}},
			}, nil
		},
	}

	w := doRequest(t, NewServer(deps), "GET", "/api/v1/credits", readerToken, nil)
	assertStatus(t, w, http.StatusOK)

	var balance credits.Balance
	decodeBody(t, w, &balance)
	assert.Equal(t, testUserID, balance.UserID)
	assert.Equal(t, int64(4), balance.Personal)
	require.Len(t, balance.Workspaces, 1)
	assert.Equal(t, int64(40), balance.Workspaces[0].Credits)
}

func TestCreditHandlers_Transactions(t *testing.T) {
	deps := testDeps()
	memberOf := uuid.New()
	var gotPool credits.Pool
	var gotLimit int
	deps.Credits = &mockCredits{
		transactionsFunc: func(ctx context.Context, pool credits.Pool, limit int) ([]*credits.Transaction, error) {
			gotPool, gotLimit = pool, limit
			return []*credits.Transaction{{ID: 1, Amount: -1, BalanceAfter: 3, Reason: "generation"}}, nil
		},
	}
	deps.Workspaces = &mockWorkspaceService{
		isMemberFunc: func(ctx context.Context, id, userID uuid.UUID) (bool, error) {
			return id == memberOf && userID == testUserID, nil
		},
	}
	s := NewServer(deps)

	t.Run("personal", func(t *testing.T) {
		w := doRequest(t, s, "GET", "/api/v1/credits/transactions", readerToken, nil)
		assertStatus(t, w, http.StatusOK)
		assert.Equal(t, credits.PersonalPool(testUserID), gotPool)
		assert.Equal(t, defaultTransactionPageSize, gotLimit)

		var body struct {
			Transactions []credits.Transaction `json:"transactions"`
		}
		decodeBody(t, w, &body)
		require.Len(t, body.Transactions, 1)
		assert.Equal(t, int64(-1), body.Transactions[0].Amount)
	})

	t.Run("workspace member", func(t *testing.T) {
		w := doRequest(t, s, "GET", "/api/v1/credits/transactions?workspace_id="+memberOf.String()+"&limit=5", readerToken, nil)
		assertStatus(t, w, http.StatusOK)
		assert.Equal(t, credits.WorkspacePool(memberOf, testUserID), gotPool)
		assert.Equal(t, 5, gotLimit)
	})

	t.Run("workspace non-member", func(t *testing.T) {
		gotPool = credits.Pool{}
		w := doRequest(t, s, "GET", "/api/v1/credits/transactions?workspace_id="+uuid.NewString(), readerToken, nil)
		assertStatus(t, w, http.StatusForbidden)
		assert.Equal(t, credits.Pool{}, gotPool)
	})
}
