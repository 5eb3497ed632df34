package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/prdforge/pkg/auth"
	"github.com/platinummonkey/prdforge/pkg/contextkeys"
	"github.com/platinummonkey/prdforge/pkg/httputil"
	"github.com/platinummonkey/prdforge/pkg/observability"
)

var (
	errNoCredential  = errors.New("missing authorization header")
	errBadAuthScheme = errors.New("authorization header must be \"Bearer <credential>\"")
)

// Authenticator resolves a bearer credential (session JWT or API token)
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*auth.AuthContext, error)
}

type AuthMiddleware struct {
	authenticator Authenticator
}

func NewAuthMiddleware(authenticator Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator}
}

// Handler rejects requests without a usable credential with 401. Store
// failures are 500 so an outage is not reported as a bad token.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, err := bearerCredential(r)
		if err != nil {
			unauthorized(w, err.Error())
			return
		}

		authCtx, err := m.authenticator.Authenticate(r.Context(), credential)
		switch {
		case err == nil:
		case auth.IsCredentialError(err):
			unauthorized(w, "invalid or expired credentials")
			return
		default:
			observability.FromContext(r.Context()).WithError(err).Error("authentication failed")
			httputil.WriteInternalError(w, err)
			return
		}

		ctx := contextkeys.WithUserID(contextkeys.WithAuth(r.Context(), authCtx), authCtx.UserID().String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerCredential(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoCredential
	}
	scheme, credential, ok := strings.Cut(header, " ")
	credential = strings.TrimSpace(credential)
	if !ok || !strings.EqualFold(scheme, "Bearer") || credential == "" {
		return "", errBadAuthScheme
	}
	return credential, nil
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="prdforge"`)
	httputil.WriteUnauthorized(w, message)
}

// GetAuthContext returns the caller set by AuthMiddleware, or nil
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, _ := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	return authCtx
}

// RequireScope answers 403 when the caller's token lacks scope
func RequireScope(scope auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			switch {
			case authCtx == nil:
				unauthorized(w, "authentication required")
			case !authCtx.HasScope(scope):
				httputil.WriteForbidden(w, "token lacks scope "+string(scope))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
