package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenRevoked    = errors.New("token revoked")
	ErrTokenNotFound   = errors.New("token not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidScope    = errors.New("invalid scope")
)

// User is an authenticated profile
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Scope represents API token scopes
type Scope string

const (
	ScopePRDRead        Scope = "prd:read"
	ScopePRDWrite       Scope = "prd:write"
	ScopeCreditsRead    Scope = "credits:read"
	ScopeWorkspaceRead  Scope = "workspace:read"
	ScopeWorkspaceWrite Scope = "workspace:write"
	ScopeTokenManage    Scope = "token:manage"
	ScopeAll            Scope = "*" // sessions carry every scope
)

var knownScopes = map[Scope]bool{
	ScopePRDRead:        true,
	ScopePRDWrite:       true,
	ScopeCreditsRead:    true,
	ScopeWorkspaceRead:  true,
	ScopeWorkspaceWrite: true,
	ScopeTokenManage:    true,
	ScopeAll:            true,
}

// ValidateScopes rejects unknown scope names
func ValidateScopes(scopes []Scope) error {
	for _, s := range scopes {
		if !knownScopes[s] {
			return fmt.Errorf("%w: %q", ErrInvalidScope, s)
		}
	}
	return nil
}

// APIToken represents an API token
type APIToken struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	TokenHash   string     `json:"-"` // never exposed
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	Scopes      []Scope    `json:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// Expired reports whether the token is past its expiry at now
func (t *APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// CreateTokenRequest is the body of POST /tokens
type CreateTokenRequest struct {
	Name      string     `json:"name"`
	Scopes    []Scope    `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Validate checks a token request
func (r *CreateTokenRequest) Validate(now time.Time) error {
	if r.Name == "" || len(r.Name) > 100 {
		return errors.New("name must be 1-100 characters")
	}
	if len(r.Scopes) == 0 {
		return errors.New("at least one scope is required")
	}
	if err := ValidateScopes(r.Scopes); err != nil {
		return err
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return errors.New("expires_at must be in the future")
	}
	return nil
}

// AuthContext holds authenticated user information
type AuthContext struct {
	User   *User
	Token  *APIToken // nil for session JWTs
	Scopes []Scope
}

// HasScope checks if the context has a specific scope
func (ac *AuthContext) HasScope(scope Scope) bool {
	for _, s := range ac.Scopes {
		if s == ScopeAll || s == scope {
			return true
		}
	}
	return false
}

// UserID returns the authenticated user's id
func (ac *AuthContext) UserID() uuid.UUID {
	if ac == nil || ac.User == nil {
		return uuid.Nil
	}
	return ac.User.ID
}
