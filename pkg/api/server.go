package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/prdforge/pkg/auth"
	"github.com/platinummonkey/prdforge/pkg/billing"
	"github.com/platinummonkey/prdforge/pkg/credits"
	"github.com/platinummonkey/prdforge/pkg/httputil"
	"github.com/platinummonkey/prdforge/pkg/middleware"
	"github.com/platinummonkey/prdforge/pkg/observability"
	"github.com/platinummonkey/prdforge/pkg/prd"
	"github.com/platinummonkey/prdforge/pkg/workspaces"
)

// PRDGenerator runs metered generations and revisions
type PRDGenerator interface {
	Generate(ctx context.Context, userID uuid.UUID, req *prd.GenerateRequest, sink prd.Sink) (*prd.PRD, error)
	Revise(ctx context.Context, userID, prdID uuid.UUID, req *prd.ReviseRequest, sink prd.Sink) (*prd.PRD, error)
	Costs() prd.Costs
}

// PRDService reads and edits stored PRDs
type PRDService interface {
	Get(ctx context.Context, userID, id uuid.UUID) (*prd.PRD, error)
	List(ctx context.Context, userID uuid.UUID, opts prd.ListOptions) ([]*prd.PRD, error)
	Rename(ctx context.Context, userID, id uuid.UUID, title string) (*prd.PRD, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	Revisions(ctx context.Context, userID, id uuid.UUID) ([]*prd.Revision, error)
}

// CreditReader reads balances and ledger history
type CreditReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (*credits.Balance, error)
	Transactions(ctx context.Context, pool credits.Pool, limit int) ([]*credits.Transaction, error)
}

// TokenService manages a user's API tokens
type TokenService interface {
	CreateToken(ctx context.Context, userID uuid.UUID, req *auth.CreateTokenRequest) (*auth.APIToken, string, error)
	ListUserTokens(ctx context.Context, userID uuid.UUID) ([]*auth.APIToken, error)
	RevokeToken(ctx context.Context, userID, tokenID uuid.UUID) error
}

// Dependencies are the services the API is built from
type Dependencies struct {
	Authenticator middleware.Authenticator
	Generator     PRDGenerator
	PRDs          PRDService
	Credits       CreditReader
	Workspaces    workspaces.Service
	Billing       billing.Service
	Tokens        TokenService

	WebhookSecret string
	// GenerationLimiter limits POST /prds and POST /prds/{id}/revise per
	// user. Nil disables rate limiting.
	GenerationLimiter middleware.Limiter

	CORSOrigins  []string
	MaxBodyBytes int64

	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Server is the prdforge HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
	deps    Dependencies
}

// NewServer creates a new API server with every route registered
func NewServer(deps Dependencies) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNopMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware(deps.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.CORSMiddleware(deps.CORSOrigins),
	)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	if s.deps.MaxBodyBytes > 0 {
		s.router.Use(httputil.MaxBytesMiddleware(s.deps.MaxBodyBytes))
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route not found")
	})

	// Lemon Squeezy signs its payloads instead of authenticating
	NewWebhookHandler(s.deps.Billing, s.deps.WebhookSecret).RegisterRoutes(s.router)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewAuthMiddleware(s.deps.Authenticator).Handler)

	var limit func(http.Handler) http.Handler
	if s.deps.GenerationLimiter != nil {
		limit = middleware.NewRateLimitMiddleware(s.deps.GenerationLimiter, "generation", s.deps.Metrics).Handler
	}

	s.RegisterRoutes(api, NewPRDHandlers(s.deps.Generator, s.deps.PRDs, limit))
	s.RegisterRoutes(api, NewCreditHandlers(s.deps.Credits, s.deps.Workspaces, s.deps.Generator))
	s.RegisterRoutes(api, NewBillingHandlers(s.deps.Billing))
	s.RegisterRoutes(api, NewWorkspaceHandlers(s.deps.Workspaces))
	s.RegisterRoutes(api, NewTokenHandlers(s.deps.Tokens))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(router *mux.Router, registrar RouteRegistrar) {
	registrar.RegisterRoutes(router)
}

// scoped wraps a handler so it requires scope, then applies extra middleware
func scoped(scope auth.Scope, h http.HandlerFunc, extra ...func(http.Handler) http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{middleware.RequireScope(scope)}
	for _, mw := range extra {
		if mw != nil {
			chain = append(chain, mw)
		}
	}
	return httputil.Chain(chain...)(h)
}

// currentUser returns the authenticated user id. The auth middleware
// guarantees it is set on every /api/v1 route.
func currentUser(r *http.Request) uuid.UUID {
	return middleware.GetAuthContext(r).UserID()
}
