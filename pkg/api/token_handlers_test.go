package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/prdforge/pkg/auth"
)

func newTokenServer(tokens *mockTokenService) *Server {
	deps := testDeps()
	deps.Tokens = tokens
	return NewServer(deps)
}

func TestTokenHandlers_Create(t *testing.T) {
	created := 0
	tokens := &mockTokenService{
		createTokenFunc: func(ctx context.Context, userID uuid.UUID, req *auth.CreateTokenRequest) (*auth.APIToken, string, error) {
			created++
			assert.Equal(t, testUserID, userID)
			return &auth.APIToken{
				ID:          uuid.New(),
				UserID:      userID,
				TokenHash:   "secret-hash",
				TokenPrefix: "prdf_abcd",
				Name:        req.Name,
				Scopes:      req.Scopes,
				CreatedAt:   time.Now(),
			}, "prdf_abcdefgh", nil
		},
	}
	s := newTokenServer(tokens)

	t.Run("created", func(t *testing.T) {
		w := doRequest(t, s, "POST", "/api/v1/tokens", fullToken, map[string]interface{}{
			"name":   "ci",
			"scopes": []string{"prd:read", "prd:write"},
		})
		assertStatus(t, w, http.StatusCreated)
		assert.NotContains(t, w.Body.String(), "secret-hash")

		var resp CreateTokenResponse
		decodeBody(t, w, &resp)
		assert.Equal(t, "prdf_abcdefgh", resp.Token)
		require.NotNil(t, resp.APIToken)
		assert.Equal(t, "ci", resp.APIToken.Name)
	})

	t.Run("cannot escalate scopes", func(t *testing.T) {
		before := created
		w := doRequest(t, s, "POST", "/api/v1/tokens", readerToken, map[string]interface{}{
			"name":   "sneaky",
			"scopes": []string{"prd:write"},
		})
		assertStatus(t, w, http.StatusForbidden)
		assert.Equal(t, before, created)
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []map[string]interface{}{
			{"name": "", "scopes": []string{"prd:read"}},
			{"name": "x", "scopes": []string{}},
			{"name": "x", "scopes": []string{"admin"}},
			{"name": "x", "scopes": []string{"prd:read"}, "expires_at": time.Now().Add(-time.Hour)},
		}
		for _, body := range tests {
			w := doRequest(t, s, "POST", "/api/v1/tokens", fullToken, body)
			assertStatus(t, w, http.StatusBadRequest)
		}
	})
}

func TestTokenHandlers_ListAndRevoke(t *testing.T) {
	known := uuid.New()
	tokens := &mockTokenService{
		listTokensFunc: func(ctx context.Context, userID uuid.UUID) ([]*auth.APIToken, error) {
			return []*auth.APIToken{{ID: known, Name: "ci", TokenHash: "secret-hash"}}, nil
		},
		revokeTokenFunc: func(ctx context.Context, userID, tokenID uuid.UUID) error {
			if tokenID != known {
				return auth.ErrTokenNotFound
			}
			return nil
		},
	}
	s := newTokenServer(tokens)

	w := doRequest(t, s, "GET", "/api/v1/tokens", readerToken, nil)
	assertStatus(t, w, http.StatusOK)
	assert.NotContains(t, w.Body.String(), "secret-hash")

	w = doRequest(t, s, "DELETE", "/api/v1/tokens/"+known.String(), readerToken, nil)
	assertStatus(t, w, http.StatusNoContent)

	w = doRequest(t, s, "DELETE", "/api/v1/tokens/"+uuid.NewString(), readerToken, nil)
	assertStatus(t, w, http.StatusNotFound)
}
