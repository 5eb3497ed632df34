package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/prdforge/pkg/contextkeys"
	"github.com/platinummonkey/prdforge/pkg/httputil"
	"github.com/platinummonkey/prdforge/pkg/observability"
	"github.com/platinummonkey/prdforge/pkg/workspaces"
)

// WorkspaceGetter loads a workspace as seen by a user
type WorkspaceGetter interface {
	GetWorkspace(ctx context.Context, id, actorID uuid.UUID) (*workspaces.Workspace, error)
}

// WorkspaceContextMiddleware loads the workspace named by the {id} route
// variable into the request context. Callers who are not members get 404.
func WorkspaceContextMiddleware(service WorkspaceGetter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := mux.Vars(r)["id"]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				httputil.WriteBadRequest(w, "invalid workspace id")
				return
			}

			ws, err := service.GetWorkspace(r.Context(), id, GetAuthContext(r).UserID())
			if errors.Is(err, workspaces.ErrNotFound) {
				httputil.WriteNotFoundError(w, "workspace not found")
				return
			}
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("failed to load workspace")
				httputil.WriteInternalError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithWorkspace(r.Context(), ws)))
		})
	}
}

// WorkspaceFromContext returns the workspace loaded by WorkspaceContextMiddleware
func WorkspaceFromContext(ctx context.Context) *workspaces.Workspace {
	ws, _ := ctx.Value(contextkeys.WorkspaceKey).(*workspaces.Workspace)
	return ws
}
