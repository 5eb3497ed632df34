package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/prdforge/pkg/auth"
	"github.com/platinummonkey/prdforge/pkg/httputil"
	"github.com/platinummonkey/prdforge/pkg/middleware"
	"github.com/platinummonkey/prdforge/pkg/workspaces"
)

// WorkspaceHandlers handles workspace, member and invitation requests
type WorkspaceHandlers struct {
	workspaceService workspaces.Service
}

// NewWorkspaceHandlers creates workspace handlers
func NewWorkspaceHandlers(workspaceService workspaces.Service) *WorkspaceHandlers {
	return &WorkspaceHandlers{workspaceService: workspaceService}
}

// RegisterRoutes registers workspace routes. Routes under /workspaces/{id}
// only reach their handler for members of that workspace.
func (h *WorkspaceHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/workspaces", scoped(auth.ScopeWorkspaceWrite, h.CreateWorkspace)).Methods("POST")
	router.Handle("/workspaces", scoped(auth.ScopeWorkspaceRead, h.ListWorkspaces)).Methods("GET")
	router.Handle("/invitations/{token}/accept", scoped(auth.ScopeWorkspaceWrite, h.AcceptInvitation)).Methods("POST")

	ws := router.PathPrefix("/workspaces/{id}").Subrouter()
	ws.Use(middleware.WorkspaceContextMiddleware(h.workspaceService))

	ws.Handle("", scoped(auth.ScopeWorkspaceRead, h.GetWorkspace)).Methods("GET")
	ws.Handle("", scoped(auth.ScopeWorkspaceWrite, h.RenameWorkspace)).Methods("PATCH")
	ws.Handle("", scoped(auth.ScopeWorkspaceWrite, h.DeleteWorkspace)).Methods("DELETE")

	ws.Handle("/members", scoped(auth.ScopeWorkspaceRead, h.ListMembers)).Methods("GET")
	ws.Handle("/members/{user_id}", scoped(auth.ScopeWorkspaceWrite, h.RemoveMember)).Methods("DELETE")
	ws.Handle("/leave", scoped(auth.ScopeWorkspaceWrite, h.LeaveWorkspace)).Methods("POST")

	ws.Handle("/invitations", scoped(auth.ScopeWorkspaceWrite, h.CreateInvitation)).Methods("POST")
	ws.Handle("/invitations", scoped(auth.ScopeWorkspaceRead, h.ListInvitations)).Methods("GET")
	ws.Handle("/invitations/{inv_id}", scoped(auth.ScopeWorkspaceWrite, h.RevokeInvitation)).Methods("DELETE")
}

// CreateWorkspace creates a workspace owned by the caller
func (h *WorkspaceHandlers) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspaces.CreateWorkspaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ws, err := h.workspaceService.CreateWorkspace(r.Context(), currentUser(r), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ws)
}

// ListWorkspaces lists the workspaces the caller belongs to
func (h *WorkspaceHandlers) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := h.workspaceService.ListWorkspaces(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*workspaces.Workspace{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"workspaces": list})
}

// GetWorkspace returns the workspace loaded by the context middleware
func (h *WorkspaceHandlers) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, middleware.WorkspaceFromContext(r.Context()))
}

// RenameWorkspace renames a workspace. Owners only.
func (h *WorkspaceHandlers) RenameWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspaces.CreateWorkspaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ws := middleware.WorkspaceFromContext(r.Context())
	updated, err := h.workspaceService.RenameWorkspace(r.Context(), ws.ID, currentUser(r), req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// DeleteWorkspace deletes a workspace. Creator only.
func (h *WorkspaceHandlers) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	ws := middleware.WorkspaceFromContext(r.Context())
	if err := h.workspaceService.DeleteWorkspace(r.Context(), ws.ID, currentUser(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListMembers lists a workspace's members
func (h *WorkspaceHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	ws := middleware.WorkspaceFromContext(r.Context())
	members, err := h.workspaceService.ListMembers(r.Context(), ws.ID, currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if members == nil {
		members = []*workspaces.Member{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

// RemoveMember removes another member. Owners only.
func (h *WorkspaceHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}
	ws := middleware.WorkspaceFromContext(r.Context())
	if err := h.workspaceService.RemoveMember(r.Context(), ws.ID, currentUser(r), userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// LeaveWorkspace removes the caller from a workspace
func (h *WorkspaceHandlers) LeaveWorkspace(w http.ResponseWriter, r *http.Request) {
	ws := middleware.WorkspaceFromContext(r.Context())
	if err := h.workspaceService.LeaveWorkspace(r.Context(), ws.ID, currentUser(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// CreateInvitation invites an email address. The response carries the
// invitation token, which is not retrievable later.
func (h *WorkspaceHandlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req workspaces.InviteMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ws := middleware.WorkspaceFromContext(r.Context())
	inv, err := h.workspaceService.CreateInvitation(r.Context(), ws.ID, currentUser(r), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, inv)
}

// ListInvitations lists a workspace's pending invitations. Owners only.
func (h *WorkspaceHandlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	ws := middleware.WorkspaceFromContext(r.Context())
	invs, err := h.workspaceService.ListInvitations(r.Context(), ws.ID, currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if invs == nil {
		invs = []*workspaces.Invitation{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"invitations": invs})
}

// RevokeInvitation deletes a pending invitation. Owners only.
func (h *WorkspaceHandlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	invitationID, ok := httputil.ParsePathUUIDOrError(w, r, "inv_id")
	if !ok {
		return
	}
	ws := middleware.WorkspaceFromContext(r.Context())
	if err := h.workspaceService.RevokeInvitation(r.Context(), ws.ID, currentUser(r), invitationID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AcceptInvitation joins the caller to the invitation's workspace
func (h *WorkspaceHandlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	token, err := httputil.ParsePathString(r, "token")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	member, err := h.workspaceService.AcceptInvitation(r.Context(), token, currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, member)
}
