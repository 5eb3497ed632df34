package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TokenStore persists hashed API tokens
type TokenStore interface {
	Create(ctx context.Context, token *APIToken) error
	GetByHash(ctx context.Context, tokenHash string) (*APIToken, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*APIToken, error)
	TouchLastUsed(ctx context.Context, tokenID uuid.UUID) error
	// Revoke marks the token revoked and returns its hash
	Revoke(ctx context.Context, userID, tokenID uuid.UUID) (string, error)
}

// PostgresTokenStore implements TokenStore on api_tokens
type PostgresTokenStore struct {
	db *sql.DB
}

// NewPostgresTokenStore creates a token store
func NewPostgresTokenStore(db *sql.DB) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

const tokenColumns = "id, user_id, token_hash, token_prefix, name, scopes, expires_at, last_used_at, created_at, revoked_at"

// Create inserts a token record
func (s *PostgresTokenStore) Create(ctx context.Context, token *APIToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (id, user_id, token_hash, token_prefix, name, scopes, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, token.ID, token.UserID, token.TokenHash, token.TokenPrefix, token.Name,
		pq.Array(scopeStrings(token.Scopes)), token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// GetByHash looks up a token by the hash of its plaintext
func (s *PostgresTokenStore) GetByHash(ctx context.Context, tokenHash string) (*APIToken, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+tokenColumns+" FROM api_tokens WHERE token_hash = $1", tokenHash)
	token, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// ListByUser returns the user's tokens including revoked ones
func (s *PostgresTokenStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*APIToken, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM api_tokens WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	tokens := []*APIToken{}
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// TouchLastUsed records token use
func (s *PostgresTokenStore) TouchLastUsed(ctx context.Context, tokenID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1", tokenID); err != nil {
		return fmt.Errorf("failed to touch token: %w", err)
	}
	return nil
}

// Revoke marks an active token revoked
func (s *PostgresTokenStore) Revoke(ctx context.Context, userID, tokenID uuid.UUID) (string, error) {
	var tokenHash string
	err := s.db.QueryRowContext(ctx, `
		UPDATE api_tokens SET revoked_at = NOW()
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL
		RETURNING token_hash
	`, tokenID, userID).Scan(&tokenHash)
	if err == sql.ErrNoRows {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to revoke token: %w", err)
	}
	return tokenHash, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*APIToken, error) {
	var t APIToken
	var scopes []string
	var expiresAt, lastUsedAt, revokedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.TokenPrefix, &t.Name, pq.Array(&scopes),
		&expiresAt, &lastUsedAt, &t.CreatedAt, &revokedAt); err != nil {
		return nil, err
	}
	for _, s := range scopes {
		t.Scopes = append(t.Scopes, Scope(s))
	}
	t.ExpiresAt = nullTime(expiresAt)
	t.LastUsedAt = nullTime(lastUsedAt)
	t.RevokedAt = nullTime(revokedAt)
	return &t, nil
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

func scopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}
