package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/prdforge/pkg/auth"
	"github.com/platinummonkey/prdforge/pkg/billing"
	"github.com/platinummonkey/prdforge/pkg/credits"
	"github.com/platinummonkey/prdforge/pkg/httputil"
	"github.com/platinummonkey/prdforge/pkg/observability"
	"github.com/platinummonkey/prdforge/pkg/prd"
	"github.com/platinummonkey/prdforge/pkg/workspaces"
)

// writeServiceError maps domain errors onto HTTP responses. Unknown errors
// are logged and reported as 500 without their message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, prd.ErrValidation),
		errors.Is(err, workspaces.ErrInvalidName),
		errors.Is(err, workspaces.ErrInvalidEmail),
		errors.Is(err, workspaces.ErrInvalidRole),
		errors.Is(err, auth.ErrInvalidScope):
		httputil.WriteValidationError(w, err.Error())

	case errors.Is(err, credits.ErrInsufficientCredits):
		httputil.WritePaymentRequired(w, "not enough credits")

	case errors.Is(err, prd.ErrForbidden),
		errors.Is(err, workspaces.ErrForbidden),
		errors.Is(err, credits.ErrNotWorkspaceMember):
		httputil.WriteForbidden(w, err.Error())

	case errors.Is(err, prd.ErrNotFound),
		errors.Is(err, workspaces.ErrNotFound),
		errors.Is(err, workspaces.ErrMemberNotFound),
		errors.Is(err, workspaces.ErrInvitationNotFound),
		errors.Is(err, auth.ErrTokenNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound),
		errors.Is(err, credits.ErrPoolNotFound):
		httputil.WriteNotFoundError(w, err.Error())

	case errors.Is(err, prd.ErrVersionConflict),
		errors.Is(err, workspaces.ErrOwnerCannotLeave),
		errors.Is(err, workspaces.ErrInvitationAccepted):
		httputil.WriteConflict(w, err.Error())

	case errors.Is(err, workspaces.ErrInvitationExpired):
		httputil.WriteErrorCode(w, http.StatusGone, "invitation_expired", err.Error())

	default:
		observability.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
		httputil.WriteInternalError(w, err)
	}
}
