package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/prdforge/pkg/auth"
	"github.com/platinummonkey/prdforge/pkg/httputil"
	"github.com/platinummonkey/prdforge/pkg/middleware"
)

// TokenHandlers handles API token management
type TokenHandlers struct {
	tokens TokenService
}

// NewTokenHandlers creates token handlers
func NewTokenHandlers(tokens TokenService) *TokenHandlers {
	return &TokenHandlers{tokens: tokens}
}

// RegisterRoutes registers token routes
func (h *TokenHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/tokens", scoped(auth.ScopeTokenManage, h.CreateToken)).Methods("POST")
	router.Handle("/tokens", scoped(auth.ScopeTokenManage, h.ListTokens)).Methods("GET")
	router.Handle("/tokens/{id}", scoped(auth.ScopeTokenManage, h.RevokeToken)).Methods("DELETE")
}

// CreateTokenResponse carries the plaintext token, shown only once
type CreateTokenResponse struct {
	Token    string         `json:"token"`
	APIToken *auth.APIToken `json:"api_token"`
}

// CreateToken issues a new API token. A token can only grant scopes its
// creator holds.
func (h *TokenHandlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req auth.CreateTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := req.Validate(time.Now()); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	authCtx := middleware.GetAuthContext(r)
	for _, scope := range req.Scopes {
		if !authCtx.HasScope(scope) {
			httputil.WriteForbidden(w, "cannot grant scope "+string(scope))
			return
		}
	}

	token, plaintext, err := h.tokens.CreateToken(r.Context(), authCtx.UserID(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, CreateTokenResponse{Token: plaintext, APIToken: token})
}

// ListTokens lists the caller's tokens without their secrets
func (h *TokenHandlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.tokens.ListUserTokens(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []*auth.APIToken{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"tokens": tokens})
}

// RevokeToken revokes one of the caller's tokens
func (h *TokenHandlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.tokens.RevokeToken(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
