package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/prdforge/pkg/auth"
	"github.com/platinummonkey/prdforge/pkg/credits"
	"github.com/platinummonkey/prdforge/pkg/httputil"
	"github.com/platinummonkey/prdforge/pkg/prd"
)

const (
	defaultTransactionPageSize = 50
	maxTransactionPageSize     = 200
)

// MembershipChecker reports workspace membership
type MembershipChecker interface {
	IsMember(ctx context.Context, id, userID uuid.UUID) (bool, error)
}

// CostReporter reports the credit prices of generations and revisions
type CostReporter interface {
	Costs() prd.Costs
}

// CreditHandlers serves balances, ledger history and pricing
type CreditHandlers struct {
	ledger  CreditReader
	members MembershipChecker
	costs   CostReporter
}

// NewCreditHandlers creates credit handlers
func NewCreditHandlers(ledger CreditReader, members MembershipChecker, costs CostReporter) *CreditHandlers {
	return &CreditHandlers{
		ledger:  ledger,
		members: members,
		costs:   costs,
	}
}

// RegisterRoutes registers credit routes
func (h *CreditHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/templates", scoped(auth.ScopePRDRead, h.Templates)).Methods("GET")
	router.Handle("/credits", scoped(auth.ScopeCreditsRead, h.Balance)).Methods("GET")
	router.Handle("/credits/transactions", scoped(auth.ScopeCreditsRead, h.Transactions)).Methods("GET")
}

type costsResponse struct {
	Generation int64 `json:"generation"`
	Revision   int64 `json:"revision"`
}

// Templates lists PRD templates with the current prices
func (h *CreditHandlers) Templates(w http.ResponseWriter, r *http.Request) {
	costs := h.costs.Costs()
	httputil.WriteSuccess(w, map[string]interface{}{
		"templates": prd.ListTemplates(),
		"costs":     costsResponse{Generation: costs.Generation, Revision: costs.Revision},
	})
}

// Balance returns the personal balance and every workspace pool
func (h *CreditHandlers) Balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.ledger.Balance(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, balance)
}

// Transactions lists ledger history for the personal pool, or for a
// workspace pool with ?workspace_id=
func (h *CreditHandlers) Transactions(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := httputil.ParseQueryUUID(r, "workspace_id")
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	page, err := httputil.ParsePagination(r, defaultTransactionPageSize, maxTransactionPageSize)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	userID := currentUser(r)
	if workspaceID != nil {
		ok, err := h.members.IsMember(r.Context(), *workspaceID, userID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if !ok {
			httputil.WriteForbidden(w, "not a member of this workspace")
			return
		}
	}

	txns, err := h.ledger.Transactions(r.Context(), credits.PoolFor(userID, workspaceID), page.Limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if txns == nil {
		txns = []*credits.Transaction{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"transactions": txns})
}
