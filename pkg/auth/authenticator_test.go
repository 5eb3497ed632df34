package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSessionVerifier struct {
	verifyFunc func(ctx context.Context, raw string) (*Identity, error)
}

func (m *mockSessionVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	return m.verifyFunc(ctx, raw)
}

type mockProfileStore struct {
	ensured map[uuid.UUID]string
}

func (m *mockProfileStore) EnsureProfile(ctx context.Context, id uuid.UUID, email string) (*User, bool, error) {
	if m.ensured == nil {
		m.ensured = make(map[uuid.UUID]string)
	}
	_, existed := m.ensured[id]
	m.ensured[id] = email
	return &User{ID: id, Email: email}, !existed, nil
}

func (m *mockProfileStore) GetProfile(ctx context.Context, id uuid.UUID) (*User, error) {
	email, ok := m.ensured[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &User{ID: id, Email: email}, nil
}

func TestAuthenticator_Session(t *testing.T) {
	userID := uuid.New()
	profiles := &mockProfileStore{}
	sessions := &mockSessionVerifier{verifyFunc: func(ctx context.Context, raw string) (*Identity, error) {
		if raw != "header.payload.sig" {
			return nil, ErrInvalidToken
		}
		return &Identity{UserID: userID, Email: "dev@example.com"}, nil
	}}
	a := NewAuthenticator(NewTokenManager(newMemoryTokenStore(), TokenManagerConfig{}), sessions, profiles)

	authCtx, err := a.Authenticate(context.Background(), "header.payload.sig")
	require.NoError(t, err)
	assert.Equal(t, userID, authCtx.UserID())
	assert.Nil(t, authCtx.Token)
	assert.True(t, authCtx.HasScope(ScopeTokenManage))
	assert.Equal(t, "dev@example.com", profiles.ensured[userID])

	_, err = a.Authenticate(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, IsCredentialError(err))
}

func TestAuthenticator_APIToken(t *testing.T) {
	userID := uuid.New()
	profiles := &mockProfileStore{ensured: map[uuid.UUID]string{userID: "bot@example.com"}}
	tokens := NewTokenManager(newMemoryTokenStore(), TokenManagerConfig{})
	a := NewAuthenticator(tokens, nil, profiles)

	_, raw, err := tokens.CreateToken(context.Background(), userID, &CreateTokenRequest{
		Name: "CI", Scopes: []Scope{ScopePRDRead},
	})
	require.NoError(t, err)

	authCtx, err := a.Authenticate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, userID, authCtx.UserID())
	assert.NotNil(t, authCtx.Token)
	assert.True(t, authCtx.HasScope(ScopePRDRead))
	assert.False(t, authCtx.HasScope(ScopePRDWrite))
}

func TestAuthenticator_Empty(t *testing.T) {
	a := NewAuthenticator(NewTokenManager(newMemoryTokenStore(), TokenManagerConfig{}), nil, &mockProfileStore{})

	_, err := a.Authenticate(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.False(t, IsCredentialError(errors.New("db down")))
}
