package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/prdforge/pkg/auth"
	"github.com/platinummonkey/prdforge/pkg/billing"
	"github.com/platinummonkey/prdforge/pkg/httputil"
	"github.com/platinummonkey/prdforge/pkg/observability"
)

// maxWebhookBytes bounds a webhook body read before its signature is checked
const maxWebhookBytes = 256 << 10

// BillingHandlers serves a user's subscription and purchase history
type BillingHandlers struct {
	billingService billing.Service
}

// NewBillingHandlers creates billing handlers
func NewBillingHandlers(billingService billing.Service) *BillingHandlers {
	return &BillingHandlers{billingService: billingService}
}

// RegisterRoutes registers billing routes
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/billing/subscription", scoped(auth.ScopeCreditsRead, h.GetSubscription)).Methods("GET")
	router.Handle("/billing/purchases", scoped(auth.ScopeCreditsRead, h.ListPurchases)).Methods("GET")
}

// GetSubscription returns the caller's current subscription
func (h *BillingHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.billingService.GetSubscription(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// ListPurchases returns the caller's purchases, newest first
func (h *BillingHandlers) ListPurchases(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	purchases, err := h.billingService.ListPurchases(r.Context(), currentUser(r), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if purchases == nil {
		purchases = []*billing.Purchase{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"purchases": purchases})
}

// WebhookHandler receives Lemon Squeezy webhook deliveries
type WebhookHandler struct {
	billingService billing.Service
	secret         string
}

// NewWebhookHandler creates the webhook handler. Deliveries are verified
// against secret.
func NewWebhookHandler(billingService billing.Service, secret string) *WebhookHandler {
	return &WebhookHandler{
		billingService: billingService,
		secret:         secret,
	}
}

// RegisterRoutes registers the unauthenticated webhook route
func (h *WebhookHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/lemonsqueezy", h.HandleWebhook).Methods("POST")
}

// HandleWebhook verifies and applies one webhook event. Anything other than
// 2xx makes the provider redeliver, so only errors worth retrying are 5xx.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}
	if len(body) > maxWebhookBytes {
		httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := billing.VerifySignature(h.secret, body, r.Header.Get(billing.SignatureHeader)); err != nil {
		observability.FromContext(r.Context()).Warn("webhook signature rejected")
		httputil.WriteUnauthorized(w, "invalid signature")
		return
	}

	result, err := h.billingService.HandleEvent(r.Context(), body)
	switch {
	case err == nil:
		httputil.WriteSuccess(w, result)
	case errors.Is(err, billing.ErrInvalidPayload):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, billing.ErrMissingCustomData), errors.Is(err, billing.ErrSubscriptionNotFound):
		httputil.WriteUnprocessable(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("webhook processing failed")
		httputil.WriteErrorCode(w, http.StatusInternalServerError, httputil.CodeInternal, "webhook processing failed")
	}
}
