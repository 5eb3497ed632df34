// Package middleware provides HTTP middleware for authentication, rate
// limiting and workspace context.
//
// AuthMiddleware accepts "Authorization: Bearer <credential>" where the
// credential is either a session JWT or a prdf_ API token, and stores the
// resulting *auth.AuthContext in the request context. RequireScope gates a
// route on a token scope.
//
// Generation routes are rate limited per user. DistributedRateLimiter keeps a
// fixed window in Redis so every instance shares the count; RateLimiter is
// the in-memory token bucket used when Redis is not configured. Limiter
// errors fail open.
//
// WorkspaceContextMiddleware resolves the {id} route variable of workspace
// routes and answers 404 to non-members.
package middleware
