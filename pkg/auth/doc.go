// Package auth provides identity for prdforge: session JWT verification,
// API token management and profile bootstrap.
//
// # Overview
//
// Two kinds of bearer credential are accepted:
//
//   - Session JWTs issued by the hosted auth provider. They are verified with
//     go-oidc against the issuer's discovered JWKS. The sub claim is the
//     profile id and sessions carry every scope.
//   - API tokens of the form prdf_<base64url(32 random bytes)>. Only the
//     SHA256 hash is stored; validated tokens are cached in an expirable LRU
//     and revocation evicts the cache entry.
//
// # Profiles
//
// The first authenticated request of a new user creates the profiles row and
// grants the signup bonus in the same transaction:
//
//	user, created, err := profiles.EnsureProfile(ctx, identity.UserID, identity.Email)
//
// # Scopes
//
//	prd:read         read PRDs and templates
//	prd:write        generate, revise, rename and delete PRDs
//	credits:read     balances, ledger and billing history
//	workspace:read   list workspaces and members
//	workspace:write  manage workspaces and invitations
//	token:manage     create and revoke API tokens
//	*                everything
//
// # Usage
//
//	tokens := auth.NewTokenManager(auth.NewPostgresTokenStore(db), auth.TokenManagerConfig{})
//	verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCClientID)
//	authenticator := auth.NewAuthenticator(tokens, verifier, profiles)
//	authCtx, err := authenticator.Authenticate(ctx, bearer)
package auth
