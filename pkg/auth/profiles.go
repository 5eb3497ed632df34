package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/prdforge/pkg/credits"
)

// ProfileStore creates and loads profiles
type ProfileStore interface {
	// EnsureProfile creates the profile on first sight, granting the signup
	// bonus in the same transaction. created reports whether it was new.
	EnsureProfile(ctx context.Context, id uuid.UUID, email string) (user *User, created bool, err error)
	GetProfile(ctx context.Context, id uuid.UUID) (*User, error)
}

// PostgresProfileStore implements ProfileStore
type PostgresProfileStore struct {
	db          *sql.DB
	ledger      credits.Ledger
	signupBonus int64
	known       *expirable.LRU[uuid.UUID, *User]
}

// NewPostgresProfileStore creates a profile store. Profiles seen within
// cacheTTL skip the database.
func NewPostgresProfileStore(db *sql.DB, ledger credits.Ledger, signupBonus int64, cacheSize int, cacheTTL time.Duration) *PostgresProfileStore {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &PostgresProfileStore{
		db:          db,
		ledger:      ledger,
		signupBonus: signupBonus,
		known:       expirable.NewLRU[uuid.UUID, *User](cacheSize, nil, cacheTTL),
	}
}

// EnsureProfile upserts profiles(id, email)
func (s *PostgresProfileStore) EnsureProfile(ctx context.Context, id uuid.UUID, email string) (*User, bool, error) {
	if user, ok := s.known.Get(id); ok && (email == "" || user.Email == email) {
		return user, false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	user := &User{ID: id, Email: email}
	created := true
	err = tx.QueryRowContext(ctx, `
		INSERT INTO profiles (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`, id, email).Scan(&user.CreatedAt)
	if err == sql.ErrNoRows {
		created = false
		err = tx.QueryRowContext(ctx, `
			UPDATE profiles SET email = CASE WHEN $2 = '' THEN email ELSE $2 END, updated_at = NOW()
			WHERE id = $1
			RETURNING email, created_at
		`, id, email).Scan(&user.Email, &user.CreatedAt)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure profile: %w", err)
	}

	if created && s.signupBonus > 0 {
		if err := s.ledger.Grant(ctx, tx, credits.PersonalPool(id), s.signupBonus, "signup_bonus"); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit profile: %w", err)
	}

	s.known.Add(id, user)
	return user, created, nil
}

// GetProfile loads a profile
func (s *PostgresProfileStore) GetProfile(ctx context.Context, id uuid.UUID) (*User, error) {
	if user, ok := s.known.Get(id); ok {
		return user, nil
	}

	user := &User{ID: id}
	err := s.db.QueryRowContext(ctx, "SELECT email, created_at FROM profiles WHERE id = $1", id).
		Scan(&user.Email, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	s.known.Add(id, user)
	return user, nil
}
