// Package contextkeys holds the request-scoped values shared between the
// middleware chain, the API handlers and the logger. Values are stored as
// interface{} so this package stays at the bottom of the import graph; the
// owning packages assert the concrete type on the way out.
package contextkeys

import "context"

type key int

const (
	// AuthKey holds *auth.AuthContext, set by middleware.AuthMiddleware.
	AuthKey key = iota
	// WorkspaceKey holds *workspaces.Workspace for /workspaces/{id} routes.
	WorkspaceKey
	// RequestIDKey holds the X-Request-ID string.
	RequestIDKey
	// UserIDKey holds the authenticated user id as a string.
	UserIDKey
	// LoggerKey holds the request *observability.Logger.
	LoggerKey
)

func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

func WithWorkspace(ctx context.Context, workspace interface{}) context.Context {
	return context.WithValue(ctx, WorkspaceKey, workspace)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID returns the request id, or "" outside a request
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetUserID returns the authenticated user id, or "" for anonymous calls
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

func stringValue(ctx context.Context, k key) string {
	s, _ := ctx.Value(k).(string)
	return s
}
