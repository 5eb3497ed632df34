package auth

import (
	"context"
	"errors"
	"strings"
)

// Authenticator resolves a bearer credential to an AuthContext. API tokens
// are recognised by their prefix; anything else is treated as a session JWT.
type Authenticator struct {
	tokens   *TokenManager
	sessions SessionVerifier
	profiles ProfileStore
}

// NewAuthenticator creates an Authenticator
func NewAuthenticator(tokens *TokenManager, sessions SessionVerifier, profiles ProfileStore) *Authenticator {
	return &Authenticator{tokens: tokens, sessions: sessions, profiles: profiles}
}

// Authenticate validates the credential and loads the profile
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*AuthContext, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	if IsAPIToken(credential) {
		token, err := a.tokens.ValidateToken(ctx, credential)
		if err != nil {
			return nil, err
		}
		user, err := a.profiles.GetProfile(ctx, token.UserID)
		if err != nil {
			return nil, err
		}
		return &AuthContext{User: user, Token: token, Scopes: token.Scopes}, nil
	}

	if a.sessions == nil {
		return nil, ErrInvalidToken
	}
	identity, err := a.sessions.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}
	user, _, err := a.profiles.EnsureProfile(ctx, identity.UserID, identity.Email)
	if err != nil {
		return nil, err
	}
	return &AuthContext{User: user, Scopes: []Scope{ScopeAll}}, nil
}

// IsCredentialError reports whether err means the caller presented a bad
// credential, as opposed to an internal failure
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrProfileNotFound)
}
