package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/prdforge/pkg/observability"
)

const (
	// TokenPrefix identifies prdforge API tokens
	TokenPrefix = "prdf_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates and validates API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token
// Format: prdf_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encoded

	return fullToken, tg.HashToken(fullToken), TokenPrefix + encoded[:8], nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encoded := strings.TrimPrefix(token, TokenPrefix)
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	if len(decoded) != TokenLength {
		return fmt.Errorf("token has wrong length")
	}

	return nil
}

// IsAPIToken reports whether a bearer credential looks like an API token
// rather than a session JWT
func IsAPIToken(raw string) bool {
	return strings.HasPrefix(raw, TokenPrefix)
}

// TokenManagerConfig sizes the validated-token cache
type TokenManagerConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// TokenManager manages API token lifecycle
type TokenManager struct {
	generator *TokenGenerator
	store     TokenStore
	cache     *expirable.LRU[string, *APIToken]
	now       func() time.Time
}

// NewTokenManager creates a token manager backed by store
func NewTokenManager(store TokenStore, config TokenManagerConfig) *TokenManager {
	if config.CacheSize <= 0 {
		config.CacheSize = 1024
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Minute
	}
	return &TokenManager{
		generator: NewTokenGenerator(),
		store:     store,
		cache:     expirable.NewLRU[string, *APIToken](config.CacheSize, nil, config.CacheTTL),
		now:       time.Now,
	}
}

// CreateToken creates a new API token. The plaintext is returned once and
// never stored.
func (tm *TokenManager) CreateToken(ctx context.Context, userID uuid.UUID, req *CreateTokenRequest) (*APIToken, string, error) {
	if err := req.Validate(tm.now()); err != nil {
		return nil, "", err
	}

	token, tokenHash, tokenPrefix, err := tm.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	apiToken := &APIToken{
		ID:          uuid.New(),
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        req.Name,
		Scopes:      req.Scopes,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   tm.now(),
	}

	if err := tm.store.Create(ctx, apiToken); err != nil {
		return nil, "", err
	}

	return apiToken, token, nil
}

// ValidateToken resolves a plaintext token to its record
func (tm *TokenManager) ValidateToken(ctx context.Context, token string) (*APIToken, error) {
	if err := tm.generator.ValidateTokenFormat(token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	tokenHash := tm.generator.HashToken(token)

	apiToken, ok := tm.cache.Get(tokenHash)
	if !ok {
		var err error
		apiToken, err = tm.store.GetByHash(ctx, tokenHash)
		if err != nil {
			return nil, err
		}
		if apiToken.RevokedAt == nil {
			tm.cache.Add(tokenHash, apiToken)
			if err := tm.store.TouchLastUsed(ctx, apiToken.ID); err != nil {
				observability.FromContext(ctx).WithError(err).Warn("failed to update token last_used_at")
			}
		}
	}

	if apiToken.RevokedAt != nil {
		return nil, ErrTokenRevoked
	}
	if apiToken.Expired(tm.now()) {
		tm.cache.Remove(tokenHash)
		return nil, ErrTokenExpired
	}

	return apiToken, nil
}

// RevokeToken revokes one of the user's tokens and evicts it from the cache
func (tm *TokenManager) RevokeToken(ctx context.Context, userID, tokenID uuid.UUID) error {
	tokenHash, err := tm.store.Revoke(ctx, userID, tokenID)
	if err != nil {
		return err
	}
	tm.cache.Remove(tokenHash)
	return nil
}

// ListUserTokens lists all tokens for a user, newest first
func (tm *TokenManager) ListUserTokens(ctx context.Context, userID uuid.UUID) ([]*APIToken, error) {
	return tm.store.ListByUser(ctx, userID)
}
